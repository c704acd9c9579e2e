package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"BestIP_Collector_Go/internal/batchping"
	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/datasource"
	"BestIP_Collector_Go/internal/locations"
	"BestIP_Collector_Go/internal/store"
	"BestIP_Collector_Go/internal/tester"
)

// ProgressCallback 是一个用于报告进度的回调函数类型
type ProgressCallback func(message string)

var (
	// ErrBusy 已有任务在运行
	ErrBusy = errors.New("已有任务正在运行")
	// ErrNoIPs 没有可用的 IP
	ErrNoIPs = errors.New("没有可用的 IP 地址")
)

// Pinger 外部批量 ping 客户端
type Pinger interface {
	Run(ctx context.Context, ips []string) (*batchping.TaskResult, error)
	Weight() batchping.WeightFunc
	MaxIPs() int
}

// Deps 引擎依赖的组件
type Deps struct {
	Store   store.Store
	Fetcher datasource.Fetcher
	Prober  tester.Prober
	Pinger  Pinger
	Sources []string
}

// Engine 汇总和测速的入口，同一时间只允许一个任务运行
type Engine struct {
	mu      sync.RWMutex
	cfg     *config.Config
	deps    Deps
	catalog *locations.Catalog
	running atomic.Bool
}

// New 使用给定依赖创建引擎
func New(cfg *config.Config, deps Deps) *Engine {
	return &Engine{cfg: cfg, deps: deps}
}

// Build 根据配置组装默认依赖，配置了节点目录文件时以文件为准
func Build(cfg *config.Config, st store.Store, catalog *locations.Catalog) (*Engine, error) {
	e := &Engine{catalog: catalog}
	e.deps.Store = st
	if err := e.Apply(cfg); err != nil {
		return nil, err
	}
	return e, nil
}

// Apply 按新配置重建抓取器、测速器和节点目录，存储保持不变。
// 节点目录加载失败时沿用之前的目录。
func (e *Engine) Apply(cfg *config.Config) error {
	e.mu.RLock()
	catalog := e.catalog
	e.mu.RUnlock()
	if cfg.Ping.VantageFile != "" {
		loaded, err := locations.LoadCatalogFromFile(cfg.Ping.VantageFile)
		if err != nil {
			slog.Warn("加载节点目录失败，沿用当前目录", "file", cfg.Ping.VantageFile, "err", err)
		} else {
			catalog = loaded
		}
	}

	deps, err := buildDeps(cfg, catalog)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	deps.Store = e.deps.Store
	e.cfg = cfg
	e.deps = deps
	e.catalog = catalog
	return nil
}


func buildDeps(cfg *config.Config, catalog *locations.Catalog) (Deps, error) {
	var deps Deps
	fetcher, err := datasource.NewHTTPFetcher(cfg.Proxy.Socks5, cfg.Sources.UserAgent)
	if err != nil {
		return deps, err
	}
	deps.Fetcher = fetcher

	deps.Sources = cfg.Sources.URLs
	if cfg.Sources.File != "" {
		sources, err := datasource.LoadSourcesFromFile(cfg.Sources.File)
		if err != nil {
			return deps, err
		}
		deps.Sources = sources
	}

	direct := &tester.Direct{
		TestURL:      cfg.ProbeURL(),
		PayloadBytes: cfg.Probe.PayloadBytes,
		Timeout:      cfg.Probe.Timeout,
		UserAgent:    cfg.Probe.UserAgent,
		RateLimitMB:  cfg.Probe.RateLimitMB,
	}
	client, err := batchping.NewClient(cfg.Ping, catalog, cfg.Proxy.Socks5)
	if err != nil {
		return deps, err
	}
	deps.Pinger = client

	switch cfg.Probe.Strategy {
	case "direct":
		deps.Prober = direct
	default:
		deps.Prober = &tester.Delegated{Ping: client, Fallback: direct}
	}
	return deps, nil
}

// Config 返回当前配置
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) snapshot() (*config.Config, Deps) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.deps
}

// exclusive 保证同一时间只有一个任务，并在开始前检查存储是否可用
func (e *Engine) exclusive(ctx context.Context, name string, fn func(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) error) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.running.Store(false)

	cfg, deps := e.snapshot()
	log := slog.With("run", uuid.NewString()[:8], "task", name)
	if err := store.CheckAvailable(ctx, deps.Store); err != nil {
		log.Error("存储不可用，任务取消", "err", err)
		return err
	}
	return fn(ctx, cfg, deps, log)
}

// Running 是否有任务正在运行
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run 定时任务：先汇总再测速，两步在同一次占用内完成，测速失败只记录日志
func (e *Engine) Run(ctx context.Context, progress ProgressCallback) error {
	progress = orNop(progress)
	return e.exclusive(ctx, "run", func(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) error {
		progress("步骤 1/2: 汇总镜像源...")
		res, err := update(ctx, cfg, deps, progress, log)
		if err != nil {
			return fmt.Errorf("汇总失败: %w", err)
		}
		progress(fmt.Sprintf("汇总完成，共 %d 个 IP", res.Snapshot.Count))

		progress("步骤 2/2: 测速...")
		snap, err := speedTest(ctx, cfg, deps, 0, progress, log)
		if err != nil {
			log.Error("定时测速失败", "err", err)
			progress(fmt.Sprintf("测速失败: %v", err))
			return nil
		}
		progress(fmt.Sprintf("测速完成，优选 %d 个 IP", snap.Count))
		return nil
	})
}

func orNop(p ProgressCallback) ProgressCallback {
	if p == nil {
		return func(string) {}
	}
	return p
}
