package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailscan/backend/internal/attachment"
)

// fakeProcessor 把执行记录追加到共享切片里
type fakeProcessor struct {
	name string
	err  error
	ran  *[]string
}

func (f *fakeProcessor) Name() string { return f.name }

func (f *fakeProcessor) Process(ctx context.Context, c *attachment.Collection) error {
	*f.ran = append(*f.ran, f.name)
	return f.err
}

func TestRegistryRun(t *testing.T) {
	ctx := context.Background()

	t.Run("按优先级执行同级按注册顺序", func(t *testing.T) {
		var ran []string
		r := NewRegistry(zap.NewNop())
		r.Register("late", 30, &fakeProcessor{name: "late", ran: &ran})
		r.Register("early", 10, &fakeProcessor{name: "early", ran: &ran})
		r.Register("mid-b", 20, &fakeProcessor{name: "mid-b", ran: &ran})
		r.Register("mid-a", 20, &fakeProcessor{name: "mid-a", ran: &ran})
		for _, name := range []string{"late", "early", "mid-a", "mid-b"} {
			r.SetEnabled(name, true)
		}

		require.NoError(t, r.Run(ctx, nil))
		assert.Equal(t, []string{"early", "mid-b", "mid-a", "late"}, ran)
		assert.Equal(t, []string{"early", "mid-b", "mid-a", "late"}, r.Names())
	})

	t.Run("缺配置的阶段被跳过", func(t *testing.T) {
		var ran []string
		r := NewRegistry(zap.NewNop())
		r.Register("configured", 10, &fakeProcessor{name: "configured", ran: &ran})
		r.Register("unconfigured", 20, &fakeProcessor{name: "unconfigured", ran: &ran})
		r.SetEnabled("configured", true)

		require.NoError(t, r.Run(ctx, nil))
		assert.Equal(t, []string{"configured"}, ran)
	})

	t.Run("禁用的阶段被跳过", func(t *testing.T) {
		var ran []string
		r := NewRegistry(zap.NewNop())
		r.Register("on", 10, &fakeProcessor{name: "on", ran: &ran})
		r.Register("off", 20, &fakeProcessor{name: "off", ran: &ran})
		r.SetEnabled("on", true)
		r.SetEnabled("off", false)

		require.NoError(t, r.Run(ctx, nil))
		assert.Equal(t, []string{"on"}, ran)
	})

	t.Run("阶段失败不影响后续阶段", func(t *testing.T) {
		var ran []string
		r := NewRegistry(zap.NewNop())
		r.Register("boom", 10, &fakeProcessor{name: "boom", err: errors.New("stage broken"), ran: &ran})
		r.Register("after", 20, &fakeProcessor{name: "after", ran: &ran})
		r.SetEnabled("boom", true)
		r.SetEnabled("after", true)

		// 批级永远成功
		require.NoError(t, r.Run(ctx, nil))
		assert.Equal(t, []string{"boom", "after"}, ran)
	})

	t.Run("空注册表直接成功", func(t *testing.T) {
		r := NewRegistry(zap.NewNop())
		assert.NoError(t, r.Run(ctx, nil))
		assert.Empty(t, r.Names())
	})
}

// fakeStageMetrics 记录阶段指标调用的桩
type fakeStageMetrics struct {
	runs   []string
	errors []string
}

func (f *fakeStageMetrics) RecordProcessorRun(processor string, _ time.Duration) {
	f.runs = append(f.runs, processor)
}

func (f *fakeStageMetrics) RecordProcessorError(processor string) {
	f.errors = append(f.errors, processor)
}

func TestRegistryMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("执行与失败都计入指标", func(t *testing.T) {
		var ran []string
		metrics := &fakeStageMetrics{}
		r := NewRegistry(zap.NewNop())
		r.SetMetrics(metrics)
		r.Register("ok", 10, &fakeProcessor{name: "ok", ran: &ran})
		r.Register("boom", 20, &fakeProcessor{name: "boom", err: errors.New("stage broken"), ran: &ran})
		r.Register("skipped", 30, &fakeProcessor{name: "skipped", ran: &ran})
		r.SetEnabled("ok", true)
		r.SetEnabled("boom", true)
		// skipped 缺配置，不产生任何指标

		require.NoError(t, r.Run(ctx, nil))

		assert.Equal(t, []string{"ok", "boom"}, metrics.runs)
		assert.Equal(t, []string{"boom"}, metrics.errors)
	})

	t.Run("未设置指标记录器时照常执行", func(t *testing.T) {
		var ran []string
		r := NewRegistry(zap.NewNop())
		r.Register("solo", 10, &fakeProcessor{name: "solo", ran: &ran})
		r.SetEnabled("solo", true)

		require.NoError(t, r.Run(ctx, nil))
		assert.Equal(t, []string{"solo"}, ran)
	})
}
