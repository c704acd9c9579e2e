package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"BestIP_Collector_Go/internal/engine"
)

// Runner 定时执行的任务
type Runner interface {
	Run(ctx context.Context, progress engine.ProgressCallback) error
}

// Scheduler 按 cron 表达式触发 Runner，上一次未结束时跳过本次
type Scheduler struct {
	mu     sync.Mutex
	runner Runner
	cron   *cron.Cron
	expr   string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{runner: runner, ctx: ctx, cancel: cancel}
}

// Start 注册 cron 任务，runOnStart 为 true 时立即在后台执行一次
func (s *Scheduler) Start(expr string, runOnStart bool) error {
	if err := s.Reload(expr); err != nil {
		return err
	}
	if runOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Trigger()
		}()
	}
	return nil
}

// Reload 替换 cron 表达式，表达式未变化时不做任何事
func (s *Scheduler) Reload(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && expr == s.expr {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(expr, s.Trigger); err != nil {
		return fmt.Errorf("cron 表达式 '%s' 解析失败: %w", expr, err)
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = c
	s.expr = expr
	c.Start()
	slog.Info(fmt.Sprintf("使用 cron 表达式: %s", expr))
	return nil
}

// Expr 当前生效的 cron 表达式
func (s *Scheduler) Expr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expr
}

// Trigger 执行一次任务
func (s *Scheduler) Trigger() {
	start := time.Now()
	err := s.runner.Run(s.ctx, func(msg string) { slog.Debug(msg) })
	switch {
	case errors.Is(err, engine.ErrBusy):
		slog.Warn("已有任务正在运行，跳过本次定时任务")
	case err != nil:
		slog.Error(fmt.Sprintf("定时任务失败: %v", err))
	default:
		slog.Info("定时任务完成", "duration", time.Since(start).Round(time.Millisecond))
	}
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
