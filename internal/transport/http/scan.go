package httptransport

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailscan/backend/internal/service"
	"mailscan/backend/internal/storage"
)

// ScanHandler 扫描相关 HTTP 处理器
type ScanHandler struct {
	scans *service.ScanService
	log   *zap.Logger
}

// NewScanHandler 创建扫描处理器
func NewScanHandler(scans *service.ScanService, log *zap.Logger) *ScanHandler {
	return &ScanHandler{
		scans: scans,
		log:   log,
	}
}

// Submit 提交一封原始邮件进行同步扫描
//
// POST /api/v1/scans，请求体为 RFC 5322 原始邮件
func (h *ScanHandler) Submit(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, "读取请求体失败")
		return
	}
	if len(raw) == 0 {
		BadRequest(c, "请求体为空")
		return
	}

	result, err := h.scans.Scan(c.Request.Context(), raw, "http")
	if err != nil {
		h.log.Warn("scan request failed", zap.Error(err))
		UnprocessableEntity(c, "邮件解析或扫描失败")
		return
	}

	Created(c, result)
}

// Get 按 ID 查询扫描结果
//
// GET /api/v1/scans/:id
func (h *ScanHandler) Get(c *gin.Context) {
	id := c.Param("id")

	result, err := h.scans.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrScanNotFound) {
			NotFound(c, "扫描结果不存在")
			return
		}
		h.log.Error("get scan failed", zap.String("id", id), zap.Error(err))
		InternalError(c, "查询扫描结果失败")
		return
	}

	Success(c, result)
}

// Attachments 查询一次扫描的附件元数据
//
// GET /api/v1/scans/:id/attachments
func (h *ScanHandler) Attachments(c *gin.Context) {
	id := c.Param("id")

	result, err := h.scans.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrScanNotFound) {
			NotFound(c, "扫描结果不存在")
			return
		}
		h.log.Error("get scan attachments failed", zap.String("id", id), zap.Error(err))
		InternalError(c, "查询附件失败")
		return
	}

	Success(c, gin.H{
		"scan_id":     result.ID,
		"attachments": result.Attachments,
	})
}

// List 分页列出扫描结果
//
// GET /api/v1/scans?limit=&offset=&phishing=
func (h *ScanHandler) List(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	if limit < 0 || limit > 500 {
		BadRequest(c, "limit 超出范围")
		return
	}
	if offset < 0 {
		BadRequest(c, "offset 超出范围")
		return
	}

	list := h.scans.List
	if c.Query("phishing") == "true" {
		list = h.scans.ListPhishing
	}

	scans, total, err := list(limit, offset)
	if err != nil {
		h.log.Error("list scans failed", zap.Error(err))
		InternalError(c, "查询扫描结果失败")
		return
	}

	Success(c, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"scans":  scans,
	})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
