package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"BestIP_Collector_Go/internal/netx"
)

const (
	// DefaultUserAgent 抓取镜像源时使用的 UA
	DefaultUserAgent = "Mozilla/5.0 (compatible; Cloudflare-IP-Collector/1.0)"
	acceptHeader     = "text/html,application/json,text/plain,*/*"
	// 单个镜像页面的读取上限
	maxBodyBytes = 8 << 20
)

// Fetcher 抓取单个镜像源的原始文本
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPFetcher 基于 http.Client 的默认实现
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher 创建抓取器，socks5 为空时直连
func NewHTTPFetcher(socks5, userAgent string) (*HTTPFetcher, error) {
	tr, err := netx.NewTransport(socks5)
	if err != nil {
		return nil, err
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{Client: &http.Client{Transport: tr}, UserAgent: userAgent}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", acceptHeader)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// fetchWithTimeout 为单次抓取加上超时
func fetchWithTimeout(ctx context.Context, f Fetcher, rawURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return f.Fetch(ctx, rawURL)
}

// SourceName 返回镜像源展示名：主机名加路径，路径为 "/" 时省略
func SourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	if u.Path == "" || u.Path == "/" {
		return u.Hostname()
	}
	return u.Hostname() + u.Path
}
