package batchping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"BestIP_Collector_Go/pkg/model"
)

// CollectPoll 轮询任务结果，达到预期节点数的比例或收到结束标记时提前返回
func (c *Client) CollectPoll(ctx context.Context, taskID, token string, expected int) ([]model.NodeResult, error) {
	need := int(math.Ceil(float64(expected) * c.cfg.EarlyStopRatio))
	var (
		results []model.NodeResult
		lastErr error
	)
	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, c.cfg.PollInterval) {
			break
		}
		msgs, err := c.pollOnce(ctx, taskID, token)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		finished := false
		for _, m := range msgs {
			if m.finished() {
				finished = true
				continue
			}
			if r, ok := m.nodeResult(); ok {
				results = append(results, r)
			}
		}
		results = dedupe(results)
		if finished || (need > 0 && len(results) >= need) {
			break
		}
	}
	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

func (c *Client) pollOnce(ctx context.Context, taskID, token string) ([]message, error) {
	u, err := url.Parse(c.cfg.PollURL)
	if err != nil {
		return nil, fmt.Errorf("无效的轮询地址: %w", err)
	}
	q := u.Query()
	q.Set("task_id", taskID)
	q.Set("task_token", token)
	q.Set("_", strconv.FormatFloat(rand.Float64(), 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Referer", c.cfg.SubmitURL)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, err
	}
	return decodeMessages(body)
}

// decodeMessages 兼容单条结果、结果数组以及 {results|data: [...]} 三种形式
func decodeMessages(body []byte) ([]message, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var list []message
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("解析轮询结果失败: %w", err)
		}
		return list, nil
	}

	var env struct {
		message
		Results []message       `json:"results"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("解析轮询结果失败: %w", err)
	}
	out := env.Results
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '[' {
		var list []message
		if err := json.Unmarshal(d, &list); err == nil {
			out = append(out, list...)
		}
	}
	if env.message.finished() || env.message.NodeID != "" {
		out = append(out, env.message)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
