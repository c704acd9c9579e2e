package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"BestIP_Collector_Go/internal/batchping"
	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/store"
	"BestIP_Collector_Go/pkg/model"
)

// BatchPingResult 一次批量 ping 的结果
type BatchPingResult struct {
	Ping    *model.PingSnapshot
	FastIPs *model.FastIPSnapshot
}

// BatchPing 把最多 max_ips 个 IP 作为一个任务提交给外部 ping 服务，
// 保存原始结果，并按加权延迟生成优选快照。ips 为空时使用已保存的 IP。
func (e *Engine) BatchPing(ctx context.Context, ips []string, progress ProgressCallback) (*BatchPingResult, error) {
	var res *BatchPingResult
	err := e.exclusive(ctx, "batchping", func(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) error {
		progress := orNop(progress)
		if len(ips) == 0 {
			stored := &model.IPSnapshot{}
			if _, err := store.GetJSON(ctx, deps.Store, store.KeyIPs, stored); err != nil {
				return err
			}
			ips = stored.IPs
		}
		if len(ips) == 0 {
			return ErrNoIPs
		}
		if limit := deps.Pinger.MaxIPs(); limit > 0 && len(ips) > limit {
			ips = ips[:limit]
		}

		progress(fmt.Sprintf("提交批量 ping 任务，共 %d 个 IP...", len(ips)))
		task, err := deps.Pinger.Run(ctx, ips)
		if err != nil {
			return fmt.Errorf("批量 ping 失败: %w", err)
		}
		now := time.Now().UTC()
		ping := &model.PingSnapshot{
			IPs:        task.IPs,
			Results:    task.Results,
			LastTested: now,
			IPCount:    len(task.IPs),
			NodeCount:  len(task.Results),
		}
		if err := store.PutJSON(ctx, deps.Store, store.KeyPingResults, ping); err != nil {
			return err
		}

		entries := batchping.AggregateByIP(task.IPs, task.Results, deps.Pinger.Weight())
		tested := len(entries)
		if len(entries) > cfg.Rank.TopK {
			entries = entries[:cfg.Rank.TopK]
		}
		fast := &model.FastIPSnapshot{
			FastIPs:     entries,
			LastTested:  now,
			Count:       len(entries),
			TestedCount: tested,
			TotalIPs:    len(task.IPs),
			Strategy:    "batchping",
		}
		if err := store.PutJSON(ctx, deps.Store, store.KeyFastIPs, fast); err != nil {
			return err
		}
		progress(fmt.Sprintf("批量 ping 完成，收到 %d 条结果，优选 %d 个 IP", len(task.Results), len(entries)))
		log.Info("批量 ping 完成", "ips", len(task.IPs), "results", len(task.Results), "kept", len(entries))
		res = &BatchPingResult{Ping: ping, FastIPs: fast}
		return nil
	})
	return res, err
}
