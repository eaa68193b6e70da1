package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailscan/backend/internal/cache"
	"mailscan/backend/internal/config"
	"mailscan/backend/internal/health"
	"mailscan/backend/internal/logger"
	"mailscan/backend/internal/monitoring"
	"mailscan/backend/internal/phishing"
	"mailscan/backend/internal/pool"
	"mailscan/backend/internal/processor"
	"mailscan/backend/internal/service"
	"mailscan/backend/internal/smtp"
	"mailscan/backend/internal/storage"
	"mailscan/backend/internal/storage/filesystem"
	"mailscan/backend/internal/storage/memory"
	redisstore "mailscan/backend/internal/storage/redis"
	sqlstore "mailscan/backend/internal/storage/sql"
	httptransport "mailscan/backend/internal/transport/http"
)

// main 启动同时包含 HTTP API 与 SMTP 入口的扫描服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailscan server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 初始化 Redis（可选，用于信誉查询结果的二级缓存）
	var redisClient *redisstore.Client
	if cfg.Redis.Address != "" {
		redisClient, err = redisstore.New(&cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, reputation cache runs local-only", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisClient, log)

	// 装配处理器注册表
	registry, err := buildRegistry(cfg, redisClient, log)
	if err != nil {
		panic(fmt.Sprintf("failed to build processor registry: %v", err))
	}
	registry.SetMetrics(metrics)
	log.Info("processor registry assembled", zap.Strings("processors", registry.Names()))

	// 关键词与评分器
	keywords, err := phishing.LoadKeywords(cfg.Scanner.KeywordsFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load keywords: %v", err))
	}
	scorer := phishing.NewScorer(keywords, log)

	// 扫描服务
	scanService := service.NewScanService(cfg, store, registry, scorer, metrics, log)

	// SMTP 异步扫描协程池
	workers := pool.NewWorkerPool(4, 256, log)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:      cfg,
		ScanService: scanService,
		Health:      healthChecker,
		Metrics:     metrics,
		Logger:      log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConns, cfg.SMTP.MaxRate)
	smtpBackend := smtp.NewBackend(scanService, workers, limiter, metrics, log)
	smtpServer := smtp.NewServer(&cfg.SMTP, smtpBackend)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Error("SMTP server shutdown error", zap.Error(err))
		}

		workers.Stop()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", zap.Error(err))
	}
	log.Info("mailscan server stopped")
}

// buildRegistry 依据配置创建并注册全部处理器阶段。
//
// 注册顺序即同优先级下的执行顺序；缺失配置的阶段在运行时
// 被记录并跳过，不影响其余阶段。
func buildRegistry(
	cfg *config.Config,
	redisClient *redisstore.Client,
	log *zap.Logger,
) (*processor.Registry, error) {
	registry := processor.NewRegistry(log)

	pc := cfg.Processors

	// 文本抽取最先跑，后续阶段和评分都依赖它的产物
	registry.Register("textextract", 10, processor.NewTextExtract(processor.TextExtractConfig{
		Endpoint:         pc.TextExtract.Endpoint,
		Timeout:          pc.TextExtract.Timeout,
		Concurrency:      pc.TextExtract.Concurrency,
		ContentAllowList: pc.TextExtract.ContentTypes,
	}, log))

	// 信誉查询带两级缓存
	var remote processor.ReputationCache
	if redisClient != nil {
		remote = redisstore.NewReputationCache(redisClient, log)
	}
	repCache := cache.NewTieredReputationCache(pc.Reputation.CacheTTL, remote)
	registry.Register("reputation", 20, processor.NewReputation(processor.ReputationConfig{
		Endpoint:    pc.Reputation.Endpoint,
		APIKey:      pc.Reputation.APIKey,
		Timeout:     pc.Reputation.Timeout,
		Concurrency: pc.Reputation.Concurrency,
		CacheTTL:    pc.Reputation.CacheTTL,
	}, repCache, log))

	registry.Register("sandbox", 30, processor.NewSandbox(processor.SandboxConfig{
		Endpoint:           pc.Sandbox.Endpoint,
		APIKey:             pc.Sandbox.APIKey,
		Timeout:            pc.Sandbox.Timeout,
		Concurrency:        pc.Sandbox.Concurrency,
		ExtensionAllowList: pc.Sandbox.Extensions,
		UserAgent:          pc.Sandbox.UserAgent,
		Referer:            pc.Sandbox.Referer,
	}, log))

	registry.Register("intel", 40, processor.NewIntel(processor.IntelConfig{
		Endpoint:    pc.Intel.Endpoint,
		APIKey:      pc.Intel.APIKey,
		PartnerID:   pc.Intel.PartnerID,
		Timeout:     pc.Intel.Timeout,
		Concurrency: pc.Intel.Concurrency,
	}, log))

	// 样本落盘最后跑，保证看到的是过滤后的最终集合
	var sampleStore processor.SampleStore
	if pc.Samples.Enabled && pc.Samples.Path != "" {
		fsStore, err := filesystem.NewStore(pc.Samples.Path)
		if err != nil {
			return nil, fmt.Errorf("initialize sample store: %w", err)
		}
		sampleStore = fsStore
	}
	registry.Register("samples", 50, processor.NewSamples(processor.SamplesConfig{
		MinSize: pc.Samples.MinSize,
	}, sampleStore, log))

	registry.SetEnabled("textextract", pc.TextExtract.Enabled)
	registry.SetEnabled("reputation", pc.Reputation.Enabled)
	registry.SetEnabled("sandbox", pc.Sandbox.Enabled)
	registry.SetEnabled("intel", pc.Intel.Enabled)
	registry.SetEnabled("samples", pc.Samples.Enabled)

	return registry, nil
}
