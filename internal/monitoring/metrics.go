package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 扫描指标
	MailsScanned     prometheus.Counter
	MailsRejected    prometheus.Counter
	ScanDuration     *prometheus.HistogramVec
	PhishingVerdicts prometheus.Counter
	PhishingScore    prometheus.Histogram

	// 附件指标
	AttachmentsProcessed prometheus.Counter
	AttachmentsFiltered  *prometheus.CounterVec
	AttachmentSize       *prometheus.HistogramVec
	ArchivesExtracted    prometheus.Counter
	ArchiveFailures      prometheus.Counter

	// 处理阶段指标
	ProcessorRuns     *prometheus.CounterVec
	ProcessorErrors   *prometheus.CounterVec
	ProcessorDuration *prometheus.HistogramVec

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailscan_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailscan_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailscan_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailscan_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 扫描指标
		MailsScanned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_mails_scanned_total",
				Help: "Total number of mails scanned",
			},
		),

		MailsRejected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_mails_rejected_total",
				Help: "Total number of mails rejected before scanning",
			},
		),

		ScanDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailscan_scan_duration_seconds",
				Help:    "Full mail scan duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		PhishingVerdicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_phishing_verdicts_total",
				Help: "Total number of mails judged as phishing",
			},
		),

		PhishingScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailscan_phishing_score",
				Help:    "Phishing score distribution",
				Buckets: prometheus.LinearBuckets(0, 16, 16),
			},
		),

		// 附件指标
		AttachmentsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_attachments_processed_total",
				Help: "Total number of attachments processed",
			},
		),

		AttachmentsFiltered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailscan_attachments_filtered_total",
				Help: "Total number of attachments filtered before enrichment",
			},
			[]string{"reason"},
		),

		AttachmentSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailscan_attachment_size_bytes",
				Help:    "Attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
			},
			[]string{"type"},
		),

		ArchivesExtracted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_archives_extracted_total",
				Help: "Total number of archives extracted",
			},
		),

		ArchiveFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_archive_failures_total",
				Help: "Total number of archive extraction failures",
			},
		),

		// 处理阶段指标
		ProcessorRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailscan_processor_runs_total",
				Help: "Total number of processor stage runs",
			},
			[]string{"processor"},
		),

		ProcessorErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailscan_processor_errors_total",
				Help: "Total number of processor stage failures",
			},
			[]string{"processor"},
		),

		ProcessorDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailscan_processor_duration_seconds",
				Help:    "Processor stage duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"processor"},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailscan_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailscan_panics_total",
				Help: "Total number of panics",
			},
		),

		// 限流指标
		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailscan_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type", "key"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordScan 记录一次完整扫描
func (m *Metrics) RecordScan(source string, duration time.Duration, score int, phishing bool) {
	m.MailsScanned.Inc()
	m.ScanDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.PhishingScore.Observe(float64(score))
	if phishing {
		m.PhishingVerdicts.Inc()
	}
}

// RecordMailRejected 记录扫描前被拒绝的邮件
func (m *Metrics) RecordMailRejected() {
	m.MailsRejected.Inc()
}

// RecordAttachment 记录附件处理
func (m *Metrics) RecordAttachment(contentType string, size int64) {
	m.AttachmentsProcessed.Inc()
	m.AttachmentSize.WithLabelValues(contentType).Observe(float64(size))
}

// RecordAttachmentFiltered 记录附件过滤
func (m *Metrics) RecordAttachmentFiltered(reason string) {
	m.AttachmentsFiltered.WithLabelValues(reason).Inc()
}

// RecordArchiveExtracted 记录归档解包
func (m *Metrics) RecordArchiveExtracted() {
	m.ArchivesExtracted.Inc()
}

// RecordArchiveFailure 记录归档解包失败
func (m *Metrics) RecordArchiveFailure() {
	m.ArchiveFailures.Inc()
}

// RecordProcessorRun 记录处理阶段运行
func (m *Metrics) RecordProcessorRun(processor string, duration time.Duration) {
	m.ProcessorRuns.WithLabelValues(processor).Inc()
	m.ProcessorDuration.WithLabelValues(processor).Observe(duration.Seconds())
}

// RecordProcessorError 记录处理阶段失败
func (m *Metrics) RecordProcessorError(processor string) {
	m.ProcessorErrors.WithLabelValues(processor).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType, key string) {
	m.RateLimitBlocks.WithLabelValues(limitType, key).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
