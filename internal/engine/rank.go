package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/store"
	"BestIP_Collector_Go/pkg/model"
)

// Rank 按延迟升序、带宽降序排序并截取前 topK 个，输入顺序决定并列时的先后
func Rank(outcomes []model.ProbeOutcome, topK int) []model.RankedEntry {
	entries := lo.Map(outcomes, func(o model.ProbeOutcome, _ int) model.RankedEntry {
		return model.RankedEntry{
			IP:            o.IP,
			LatencyMs:     o.LatencyMs,
			BandwidthMBps: o.BandwidthMBps,
			NodeCount:     len(lo.Filter(o.NodeResults, func(r model.NodeResult, _ int) bool { return r.Result >= 0 })),
			Colo:          o.Colo,
		}
	})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LatencyMs != entries[j].LatencyMs {
			return entries[i].LatencyMs < entries[j].LatencyMs
		}
		return entries[i].BandwidthMBps > entries[j].BandwidthMBps
	})
	if topK > 0 && len(entries) > topK {
		entries = entries[:topK]
	}
	return entries
}

// RankAndStore 分批测速候选 IP，保留成功的结果排序后整体覆盖优选快照
func (e *Engine) RankAndStore(ctx context.Context, candidates []string, maxToTest, topK int, progress ProgressCallback) (*model.FastIPSnapshot, error) {
	var snap *model.FastIPSnapshot
	err := e.exclusive(ctx, "rank", func(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) error {
		var err error
		snap, err = rankAndStore(ctx, cfg, deps, candidates, maxToTest, topK, orNop(progress), log)
		return err
	})
	return snap, err
}

func rankAndStore(ctx context.Context, cfg *config.Config, deps Deps, candidates []string, maxToTest, topK int, progress ProgressCallback, log *slog.Logger) (*model.FastIPSnapshot, error) {
	toTest := candidates
	if maxToTest > 0 && len(toTest) > maxToTest {
		toTest = toTest[:maxToTest]
	}
	progress(fmt.Sprintf("开始测速 %d 个 IP（共 %d 个候选）...", len(toTest), len(candidates)))

	outcomes := make([]*model.ProbeOutcome, len(toTest))
	batches := lo.Chunk(lo.Range(len(toTest)), cfg.Rank.BatchSize)
	for bi, batch := range batches {
		if bi > 0 && !sleepCtx(ctx, cfg.Rank.BatchDelay) {
			break
		}
		var wg sync.WaitGroup
		for _, idx := range batch {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				ip := toTest[idx]
				out, err := deps.Prober.Probe(ctx, ip)
				if err != nil {
					log.Debug("测速失败", "ip", ip, "err", err)
					progress(fmt.Sprintf("IP %s 测速失败: %v", ip, err))
					return
				}
				outcomes[idx] = out
				if out.Unreachable() {
					progress(fmt.Sprintf("IP %s: 所有节点均不可达", ip))
					return
				}
				progress(fmt.Sprintf("IP %s: 延迟=%dms, 带宽=%.2fMB/s", ip, out.LatencyMs, out.BandwidthMBps))
			}(idx)
		}
		wg.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	succeeded := make([]model.ProbeOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o != nil {
			succeeded = append(succeeded, *o)
		}
	}
	entries := Rank(succeeded, topK)

	snap := &model.FastIPSnapshot{
		FastIPs:     entries,
		LastTested:  time.Now().UTC(),
		Count:       len(entries),
		TestedCount: len(succeeded),
		TotalIPs:    len(candidates),
		Strategy:    cfg.Probe.Strategy,
	}
	if err := store.PutJSON(ctx, deps.Store, store.KeyFastIPs, snap); err != nil {
		return nil, err
	}
	log.Info("测速完成", "tested", len(toTest), "succeeded", len(succeeded), "kept", len(entries))
	return snap, nil
}

// SpeedTest 从 IP 快照中读取候选并测速，maxTests 不大于 0 时使用配置值，且不超过上限
func (e *Engine) SpeedTest(ctx context.Context, maxTests int, progress ProgressCallback) (*model.FastIPSnapshot, error) {
	var snap *model.FastIPSnapshot
	err := e.exclusive(ctx, "speedtest", func(ctx context.Context, cfg *config.Config, deps Deps, log *slog.Logger) error {
		var err error
		snap, err = speedTest(ctx, cfg, deps, maxTests, orNop(progress), log)
		return err
	})
	return snap, err
}

func speedTest(ctx context.Context, cfg *config.Config, deps Deps, maxTests int, progress ProgressCallback, log *slog.Logger) (*model.FastIPSnapshot, error) {
	stored := &model.IPSnapshot{}
	if _, err := store.GetJSON(ctx, deps.Store, store.KeyIPs, stored); err != nil {
		return nil, err
	}
	if len(stored.IPs) == 0 {
		return nil, ErrNoIPs
	}
	if maxTests <= 0 {
		maxTests = cfg.Rank.MaxTests
	}
	maxTests = min(maxTests, cfg.Rank.MaxTestsCeiling)
	return rankAndStore(ctx, cfg, deps, stored.IPs, maxTests, cfg.Rank.TopK, progress, log)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
