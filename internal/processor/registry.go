// Package processor 实现附件增强处理器及其有序注册表。
package processor

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"mailscan/backend/internal/attachment"
)

// Processor 一个独立开关的增强阶段。
//
// 实现者只在单次 Process 调用内借用集合的可变访问，
// 把结果写进记录的 Enrichment[自身名字]；单条记录的失败
// 不得中断同阶段内其余记录的处理。
type Processor interface {
	Name() string
	Process(ctx context.Context, c *attachment.Collection) error
}

// StageMetrics 阶段执行的指标记录。由 monitoring.Metrics 实现。
type StageMetrics interface {
	RecordProcessorRun(processor string, duration time.Duration)
	RecordProcessorError(processor string)
}

type stage struct {
	name     string
	priority int
	order    int // 注册序号，优先级相同时保持注册顺序
	proc     Processor
}

// Registry 命名、有序、可独立启停的处理器注册表。
//
// 注册表在启动时显式构建：每个阶段带名字与优先级注册一次，
// 执行顺序是按优先级的稳定排序（优先级小者先行，
// 相同优先级按注册顺序）。没有任何全局注册状态。
type Registry struct {
	log     *zap.Logger
	metrics StageMetrics // 可为 nil
	stages  []stage
	enabled map[string]bool // 阶段名 -> 开关；缺键视为未配置
	sorted  bool
}

// NewRegistry 创建空注册表。
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		log:     log,
		enabled: make(map[string]bool),
	}
}

// SetMetrics 设置阶段指标记录器。
func (r *Registry) SetMetrics(m StageMetrics) {
	r.metrics = m
}

// Register 注册一个处理器阶段。
func (r *Registry) Register(name string, priority int, p Processor) {
	r.stages = append(r.stages, stage{
		name:     name,
		priority: priority,
		order:    len(r.stages),
		proc:     p,
	})
	r.sorted = false
}

// SetEnabled 设置某阶段的开关。未调用过的阶段视为缺配置。
func (r *Registry) SetEnabled(name string, on bool) {
	r.enabled[name] = on
}

// Names 按执行顺序返回已注册阶段名。
func (r *Registry) Names() []string {
	r.sortStages()
	names := make([]string, 0, len(r.stages))
	for _, s := range r.stages {
		names = append(names, s.name)
	}
	return names
}

// Run 按序执行所有启用的阶段。实现 attachment.Enricher。
//
// 缺配置的阶段记日志后跳过；阶段级失败（如配置错误）只影响
// 该阶段，其余阶段照常执行。永远不会返回批级失败。
func (r *Registry) Run(ctx context.Context, c *attachment.Collection) error {
	r.sortStages()

	for _, s := range r.stages {
		on, configured := r.enabled[s.name]
		if !configured {
			r.log.Warn("processor has no configuration, skipping", zap.String("processor", s.name))
			continue
		}
		if !on {
			r.log.Debug("processor disabled", zap.String("processor", s.name))
			continue
		}

		start := time.Now()
		err := s.proc.Process(ctx, c)
		if r.metrics != nil {
			r.metrics.RecordProcessorRun(s.name, time.Since(start))
		}
		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordProcessorError(s.name)
			}
			r.log.Error("processor stage failed",
				zap.String("processor", s.name),
				zap.Error(err))
			continue
		}
		r.log.Debug("processor stage done", zap.String("processor", s.name))
	}
	return nil
}

func (r *Registry) sortStages() {
	if r.sorted {
		return
	}
	sort.SliceStable(r.stages, func(i, j int) bool {
		if r.stages[i].priority != r.stages[j].priority {
			return r.stages[i].priority < r.stages[j].priority
		}
		return r.stages[i].order < r.stages[j].order
	})
	r.sorted = true
}
