// Package httptransport 提供基于 Gin 的 HTTP API。
package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailscan/backend/internal/config"
	"mailscan/backend/internal/health"
	"mailscan/backend/internal/middleware"
	"mailscan/backend/internal/monitoring"
	"mailscan/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config      *config.Config
	ScanService *service.ScanService
	Health      *health.HealthChecker
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)

	// 使用自定义中间件替代默认中间件
	router.Use(monitoringMW.PanicRecovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(monitoringMW.HTTPMetrics())

	// 邮件原文可能较大，全局限制对齐邮件服务器上限
	router.Use(middleware.BodySizeLimit(middleware.MailBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 创建处理器与认证中间件
	scanHandler := NewScanHandler(deps.ScanService, deps.Logger)
	apiKeyAuth := middleware.NewAPIKeyAuth(deps.Config.API.KeyHashes)

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Health.CheckHealth())
	})
	router.GET("/live", gin.WrapH(deps.Health.Handler()))
	router.GET("/ready", gin.WrapH(deps.Health.Handler()))
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// V1 API
	v1 := router.Group("/api/v1")
	v1.Use(apiKeyAuth.RequireAPIKey())
	{
		v1.POST("/scans", scanHandler.Submit)
		v1.GET("/scans", scanHandler.List)
		v1.GET("/scans/:id", scanHandler.Get)
		v1.GET("/scans/:id/attachments", scanHandler.Attachments)
	}

	return router
}
