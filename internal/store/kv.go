package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"BestIP_Collector_Go/internal/config"
)

const (
	maxRetries    = 3
	retryInterval = 2 * time.Second
)

// KVPayload 写入 Worker KV 网关的数据结构
type KVPayload struct {
	Filename string `json:"filename"`
	Value    string `json:"value"`
}

// KV 通过 Worker 网关读写 KV：
//
//	GET  {url}/storage?key=K&token=T   读取，404 表示不存在
//	POST {url}/storage?token=T         写入 KVPayload
type KV struct {
	client        *http.Client
	workerURL     string
	token         string
	retryInterval time.Duration
}

func NewKV(cfg config.KVConfig) (*KV, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("worker url未配置")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("worker token未配置")
	}
	return &KV{
		client:        &http.Client{Timeout: 30 * time.Second},
		workerURL:     strings.TrimSuffix(cfg.URL, "/"),
		token:         cfg.Token,
		retryInterval: retryInterval,
	}, nil
}

func (k *KV) endpoint(key string) string {
	q := url.Values{"token": {k.token}}
	if key != "" {
		q.Set("key", key)
	}
	return k.workerURL + "/storage?" + q.Encode()
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.endpoint(key), nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("读取失败，状态码: %d, 响应: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// Put 带重试的写入
func (k *KV) Put(ctx context.Context, key string, value []byte) error {
	jsonData, err := json.Marshal(KVPayload{Filename: key, Value: string(value)})
	if err != nil {
		return fmt.Errorf("JSON编码失败: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(k.retryInterval):
			}
		}
		if lastErr = k.upload(ctx, jsonData); lastErr == nil {
			return nil
		}
		slog.Warn("KV 写入失败，准备重试", "key", key, "attempt", attempt+1, "err", lastErr)
	}
	return fmt.Errorf("KV 写入失败(已重试%d次): %w", maxRetries, lastErr)
}

func (k *KV) upload(ctx context.Context, jsonData []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint(""), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("上传失败，状态码: %d, 响应: %s", resp.StatusCode, body)
	}
	return nil
}

// Ping 网关可达且 token 有效，读取不存在的 key 返回 404 也视为可用
func (k *KV) Ping(ctx context.Context) error {
	_, err := k.Get(ctx, "__ping__")
	if err == nil || err == ErrNotFound {
		return nil
	}
	return err
}

func (k *KV) Close() error { return nil }
