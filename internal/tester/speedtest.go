package tester

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/VividCortex/ewma"
	"golang.org/x/time/rate"

	"BestIP_Collector_Go/pkg/model"
)

// Direct 直连测速：强制连接到目标 IP 下载固定大小的数据
type Direct struct {
	TestURL      string
	PayloadBytes int
	Timeout      time.Duration
	UserAgent    string
	RateLimitMB  float64 // 读取速率上限，0 表示不限速
	Port         int     // 默认 443
}

func (d *Direct) Probe(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
	return d.downloadHandler(ctx, ip)
}

// downloadHandler 是实际执行下载测速的内部函数
func (d *Direct) downloadHandler(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
	port := d.Port
	if port == 0 {
		port = DefaultTCPPort
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext:        getDialContext(ip, port),
			DisableCompression: true,
			DisableKeepAlives:  true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.TestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}

	timeStart := time.Now()
	response, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(response.Body, 200))
		if len(bodyBytes) > 0 {
			return nil, fmt.Errorf("%w: %d, 响应: %s", ErrStatus, response.StatusCode, bodyBytes)
		}
		return nil, fmt.Errorf("%w: %d", ErrStatus, response.StatusCode)
	}
	colo := getHeaderColo(response.Header)

	// 如果设置了速率限制，则创建限速器
	buffer := make([]byte, 8192)
	var limiter *rate.Limiter
	if d.RateLimitMB > 0 {
		limit := d.RateLimitMB * 1024 * 1024
		burst := max(int(limit), len(buffer))
		limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}

	var (
		contentRead     int64
		lastContentRead int64
		timeSlice       = timeout / 100
		nextTime        = timeStart.Add(timeSlice)
	)
	e := ewma.NewMovingAverage()

	for {
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(buffer)); err != nil {
				return nil, fmt.Errorf("读取超时: %w", err)
			}
		}
		n, err := response.Body.Read(buffer)
		contentRead += int64(n)
		if now := time.Now(); now.After(nextTime) {
			e.Add(float64(contentRead - lastContentRead))
			lastContentRead = contentRead
			nextTime = now.Add(timeSlice)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取响应失败: %w", err)
		}
	}

	elapsed := time.Since(timeStart)
	latencyMs := int(elapsed.Milliseconds())
	if latencyMs < 1 {
		latencyMs = 1
	}
	bandwidth := (float64(contentRead) / 1024 / 1024) / (float64(latencyMs) / 1000)

	// ewma 只在读取跨越了多个时间片时才有意义
	smoothed := bandwidth
	if v := e.Value(); v > 0 {
		smoothed = v / timeSlice.Seconds() / 1024 / 1024
	}

	return &model.ProbeOutcome{
		IP:            ip,
		LatencyMs:     latencyMs,
		BandwidthMBps: round2(bandwidth),
		SmoothedMBps:  round2(smoothed),
		Colo:          colo,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
