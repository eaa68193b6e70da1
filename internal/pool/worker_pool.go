// Package pool 提供运行异步扫描任务的有界协程池。
package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueClosed 池已停止，不再接收任务。
var ErrQueueClosed = errors.New("worker pool stopped")

// WorkerPool 扫描任务协程池
//
// 限制并发扫描数量，避免一波 SMTP 投递冲垮下游的
// 解析、增强和存储。队列满时由调用方决定退避策略。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
	log        *zap.Logger

	// mu 保护 stopped 与队列关闭：提交方持读锁跨越发送，
	// Stop 持写锁关闭队列，保证不会向已关闭的队列发送
	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大并发扫描数
//   - queueSize: 等待队列大小
func NewWorkerPool(maxWorkers, queueSize int, log *zap.Logger) *WorkerPool {
	return &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
		log:        log,
	}
}

// Start 启动工作协程
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交扫描任务，队列满时阻塞等待空位
//
// ctx 取消或池已停止时返回错误，任务不会入队。
func (p *WorkerPool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrQueueClosed
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 尝试提交扫描任务
//
// 队列已满或池已停止时立即返回 false，由调用方做退避（SMTP 入口回 451）。
func (p *WorkerPool) TrySubmit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}

	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// QueueDepth 当前排队等待的任务数
func (p *WorkerPool) QueueDepth() int {
	return len(p.taskQueue)
}

// Stop 停止协程池，排空已入队的任务后返回
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.runTask(task)
		}
	}
}

// runTask 执行单个任务并捕获 panic
//
// 单个扫描任务的 panic 不能带倒工作协程，否则池容量会被悄悄蚕食。
func (p *WorkerPool) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("scan task panicked", zap.Any("panic", r))
		}
	}()
	task()
}
