package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"mailscan/backend/internal/cache"
	"mailscan/backend/internal/config"
	"mailscan/backend/internal/logger"
	"mailscan/backend/internal/phishing"
	"mailscan/backend/internal/processor"
	"mailscan/backend/internal/service"
	"mailscan/backend/internal/storage/filesystem"
	"mailscan/backend/internal/storage/memory"
)

// main 对单个 .eml 文件做一次性扫描，结果以 JSON 打印到标准输出。
//
// 用法: scan [-pretty] <mail.eml>
func main() {
	pretty := flag.Bool("pretty", false, "缩进输出 JSON")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scan [-pretty] <mail.eml>")
		os.Exit(2)
	}

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read mail: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "warn",
		Development: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build registry: %v\n", err)
		os.Exit(1)
	}

	keywords, err := phishing.LoadKeywords(cfg.Scanner.KeywordsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load keywords: %v\n", err)
		os.Exit(1)
	}

	scans := service.NewScanService(cfg, memory.NewStore(), registry,
		phishing.NewScorer(keywords, log), nil, log)

	result, err := scans.Scan(context.Background(), raw, "cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}
}

// buildRegistry 装配 CLI 场景的处理器注册表。
// 不依赖 Redis，信誉缓存只用本地一级。
func buildRegistry(cfg *config.Config, log *zap.Logger) (*processor.Registry, error) {
	registry := processor.NewRegistry(log)
	pc := cfg.Processors

	registry.Register("textextract", 10, processor.NewTextExtract(processor.TextExtractConfig{
		Endpoint:         pc.TextExtract.Endpoint,
		Timeout:          pc.TextExtract.Timeout,
		Concurrency:      pc.TextExtract.Concurrency,
		ContentAllowList: pc.TextExtract.ContentTypes,
	}, log))

	repCache := cache.NewTieredReputationCache(pc.Reputation.CacheTTL, nil)
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
