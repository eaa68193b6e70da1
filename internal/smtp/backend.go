// Package smtp 实现接收邮件并送入扫描流水线的 SMTP 入口。
package smtp

import (
	"context"
	"io"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailscan/backend/internal/config"
	"mailscan/backend/internal/monitoring"
	"mailscan/backend/internal/pool"
	"mailscan/backend/internal/service"
)

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 入口：收到的每封邮件异步提交
// 到扫描流水线，不做投递，也没有任何中继功能。
type Backend struct {
	scans   *service.ScanService
	workers *pool.WorkerPool
	limiter *ConnectionLimiter
	metrics *monitoring.Metrics
	log     *zap.Logger

	// ScanTimeout 单封邮件异步扫描的超时
	scanTimeout time.Duration
}

// NewBackend 创建 SMTP Backend。
func NewBackend(
	scans *service.ScanService,
	workers *pool.WorkerPool,
	limiter *ConnectionLimiter,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *Backend {
	return &Backend{
		scans:       scans,
		workers:     workers,
		limiter:     limiter,
		metrics:     metrics,
		log:         log,
		scanTimeout: 5 * time.Minute,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		if b.metrics != nil {
			b.metrics.RecordRateLimitBlock("smtp", "connection")
		}
		b.log.Warn("smtp connection rejected",
			zap.Int("active_connections", b.limiter.Current()))
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 扫描网关接受任意收件人，真实的投递决策在下游系统。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data 接收邮件正文并异步提交扫描。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "failed to read message",
		}
	}

	b := s.backend
	from := s.fromAddress

	submitted := b.workers.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.scanTimeout)
		defer cancel()

		if _, err := b.scans.Scan(ctx, raw, "smtp"); err != nil {
			b.log.Warn("smtp mail scan failed",
				zap.String("from", from),
				zap.Error(err),
			)
		}
	})
	if !submitted {
		if b.metrics != nil {
			b.metrics.RecordRateLimitBlock("smtp", "queue")
		}
		b.log.Warn("scan queue full, mail deferred",
			zap.String("from", from),
			zap.Int("queue_depth", b.workers.QueueDepth()),
		)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 2},
			Message:      "scan queue full, try again later",
		}
	}

	return nil
}

// Reset 重置会话状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束，释放连接许可。
func (s *session) Logout() error {
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	return nil
}

// NewServer 依据配置构建 go-smtp 服务器。
func NewServer(cfg *config.SMTPConfig, backend *Backend) *gosmtp.Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.BindAddr
	srv.Domain = cfg.Domain
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.MaxMessageBytes = 25 * 1024 * 1024
	srv.MaxRecipients = 50
	srv.AllowInsecureAuth = true
	return srv
}
