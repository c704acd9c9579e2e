package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"BestIP_Collector_Go/pkg/model"
)

// ProgressCallback 是一个用于报告进度的回调函数类型
type ProgressCallback func(message string)

// CollectOptions 汇总参数
type CollectOptions struct {
	Timeout    time.Duration // 单个源的超时，默认 8s
	BatchSize  int           // 每批并发数，默认 3
	BatchDelay time.Duration // 批次间隔，默认 1s
	Progress   ProgressCallback
}

func (o *CollectOptions) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = 8 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = time.Second
	}
	if o.Progress == nil {
		o.Progress = func(string) {}
	}
}

// CollectAll 分批并发抓取所有镜像源，返回去重排序后的 IP 和每个源的结果。
// 单个源失败不会影响其他源，ctx 取消时剩余批次直接记为失败。
func CollectAll(ctx context.Context, f Fetcher, sourceURLs []string, opts CollectOptions) ([]string, []model.SourceResult) {
	opts.normalize()

	results := make([]model.SourceResult, len(sourceURLs))
	tokens := make([][]string, len(sourceURLs))

	batches := lo.Chunk(lo.Range(len(sourceURLs)), opts.BatchSize)
	for bi, batch := range batches {
		if bi > 0 && !sleepCtx(ctx, opts.BatchDelay) {
			for _, rest := range batches[bi:] {
				for _, idx := range rest {
					results[idx] = errorResult(sourceURLs[idx], ctx.Err())
				}
			}
			break
		}

		var wg sync.WaitGroup
		for _, idx := range batch {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				rawURL := sourceURLs[idx]
				body, err := fetchWithTimeout(ctx, f, rawURL, opts.Timeout)
				if err != nil {
					slog.Warn("镜像源抓取失败", "source", SourceName(rawURL), "err", err)
					results[idx] = errorResult(rawURL, err)
					return
				}
				matches := ExtractIPv4(string(body))
				tokens[idx] = matches
				results[idx] = model.SourceResult{
					Name:   SourceName(rawURL),
					Status: model.StatusSuccess,
					Count:  len(matches),
				}
			}(idx)
		}
		wg.Wait()
		opts.Progress(fmt.Sprintf("镜像源批次 %d/%d 完成", bi+1, len(batches)))
	}

	ips := FilterAndSort(lo.Flatten(tokens))
	return ips, results
}

func errorResult(rawURL string, err error) model.SourceResult {
	return model.SourceResult{
		Name:   SourceName(rawURL),
		Status: model.StatusError,
		Count:  0,
		Error:  err.Error(),
	}
}

// sleepCtx 等待 d，ctx 先结束时返回 false
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
