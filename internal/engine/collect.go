package engine

import (
	"context"
	"log/slog"
	"time"

	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/datasource"
	"BestIP_Collector_Go/internal/store"
	"BestIP_Collector_Go/pkg/model"
)

// UpdateResult 一次汇总的结果
type UpdateResult struct {
	Snapshot *model.IPSnapshot
	Duration time.Duration
}

// Update 抓取所有镜像源并整体覆盖 IP 快照
func (e *Engine) Update(ctx context.Context, progress ProgressCallback) (*UpdateResult, error) {
	var res *UpdateResult
	err := e.exclusive(ctx, "update", func(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) error {
		var err error
		res, err = update(ctx, cfg, deps, orNop(progress), log)
		return err
	})
	return res, err
}

func update(ctx context.Context, cfg *config.Config, deps Deps, progress ProgressCallback, log *slog.Logger) (*UpdateResult, error) {
	start := time.Now()
	ips, sources := datasource.CollectAll(ctx, deps.Fetcher, deps.Sources, datasource.CollectOptions{
		Timeout:    cfg.Sources.Timeout,
		BatchSize:  cfg.Sources.BatchSize,
		BatchDelay: cfg.Sources.BatchDelay,
		Progress:   datasource.ProgressCallback(progress),
	})
	snap := &model.IPSnapshot{
		IPs:         ips,
		LastUpdated: time.Now().UTC(),
		Count:       len(ips),
		Sources:     sources,
	}
	if err := store.PutJSON(ctx, deps.Store, store.KeyIPs, snap); err != nil {
		return nil, err
	}
	res := &UpdateResult{Snapshot: snap, Duration: time.Since(start)}
	log.Info("IP 汇总完成", "ips", len(ips), "sources", len(sources), "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// StoredIPs 读取当前的 IP 快照，不存在时返回空快照
func (e *Engine) StoredIPs(ctx context.Context) (*model.IPSnapshot, error) {
	_, deps := e.snapshot()
	snap := &model.IPSnapshot{IPs: []string{}, Sources: []model.SourceResult{}}
	if _, err := store.GetJSON(ctx, deps.Store, store.KeyIPs, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// StoredFastIPs 读取当前的优选快照
func (e *Engine) StoredFastIPs(ctx context.Context) (*model.FastIPSnapshot, error) {
	_, deps := e.snapshot()
	snap := &model.FastIPSnapshot{FastIPs: []model.RankedEntry{}}
	if _, err := store.GetJSON(ctx, deps.Store, store.KeyFastIPs, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// StoredPingResults 读取最近一次批量 ping 的原始结果，不存在时返回 false
func (e *Engine) StoredPingResults(ctx context.Context) (*model.PingSnapshot, bool, error) {
	_, deps := e.snapshot()
	snap := &model.PingSnapshot{}
	found, err := store.GetJSON(ctx, deps.Store, store.KeyPingResults, snap)
	return snap, found, err
}
