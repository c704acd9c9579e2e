package batchping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/locations"
	"BestIP_Collector_Go/internal/netx"
	"BestIP_Collector_Go/pkg/model"
)

var (
	// ErrBlocked 请求被服务的风控拦截
	ErrBlocked = errors.New("请求被拦截")
	// ErrNoTaskID 页面中没有任务 id
	ErrNoTaskID = errors.New("未获取到任务 id")
	// ErrNoChannel 既没有推送地址也没有配置轮询地址
	ErrNoChannel = errors.New("没有可用的结果通道")
)

const maxPageBytes = 2 << 20

// TaskResult 一次批量 ping 任务的结果
type TaskResult struct {
	TaskID  string
	IPs     []string
	Results []model.NodeResult
}

// Client 外部批量 ping 服务客户端
type Client struct {
	cfg     config.PingConfig
	http    *http.Client
	dial    netx.DialContextFunc
	limiter *rate.Limiter
	weight  WeightFunc
}

// NewClient 创建客户端，catalog 用于节点加权，可以为 nil
func NewClient(cfg config.PingConfig, catalog *locations.Catalog, socks5 string) (*Client, error) {
	dial, err := netx.Dialer(socks5)
	if err != nil {
		return nil, err
	}
	tr, err := netx.NewTransport(socks5)
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.MinSubmitInterval > 0 {
		limit = rate.Every(cfg.MinSubmitInterval)
	}
	if len(cfg.Nodes) == 0 {
		cfg.Nodes = catalog.IDs()
	}
	priority := cfg.PriorityWeight
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		dial:    dial,
		limiter: rate.NewLimiter(limit, 1),
		weight: func(nodeID string) float64 {
			return catalog.Weight(nodeID, priority)
		},
	}, nil
}

// Weight 返回客户端使用的节点权重函数
func (c *Client) Weight() WeightFunc {
	return c.weight
}

// MaxIPs 单个任务允许提交的最大 IP 数
func (c *Client) MaxIPs() int {
	return c.cfg.MaxIPs
}

// Run 提交任务并收集所有节点的结果
func (c *Client) Run(ctx context.Context, ips []string) (*TaskResult, error) {
	if len(ips) == 0 {
		return nil, errors.New("没有需要测试的 IP")
	}
	if c.cfg.MaxIPs > 0 && len(ips) > c.cfg.MaxIPs {
		slog.Warn(fmt.Sprintf("IP 数量 %d 超过单任务上限，截断为 %d", len(ips), c.cfg.MaxIPs))
		ips = ips[:c.cfg.MaxIPs]
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sess := NewSession()
	page, err := c.Submit(ctx, sess, ips)
	if err != nil {
		return nil, err
	}
	token := TaskToken(page.TaskID, c.cfg.TokenSalt)
	slog.Debug("批量 ping 任务已创建", "task_id", page.TaskID, "ips", len(ips))

	results, err := c.collect(ctx, page, token, len(c.cfg.Nodes)*len(ips))
	if err != nil {
		return nil, err
	}
	resolveIPs(ips, results)
	return &TaskResult{TaskID: page.TaskID, IPs: ips, Results: dedupe(results)}, nil
}

// Measure 测量单个 IP，没有任何节点返回时延迟为哨兵值
func (c *Client) Measure(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
	res, err := c.Run(ctx, []string{ip})
	if err != nil {
		return nil, err
	}
	latency, used := WeightedLatency(res.Results, c.weight)
	slog.Debug("外部 ping 完成", "ip", ip, "latency", latency, "nodes", used)
	return &model.ProbeOutcome{
		IP:          ip,
		LatencyMs:   latency,
		NodeResults: res.Results,
	}, nil
}

// Submit 提交任务表单，遇到挑战 cookie 时计算应答后重新提交一次
func (c *Client) Submit(ctx context.Context, sess *Session, ips []string) (TaskPage, error) {
	html, status, err := c.post(ctx, sess, ips)
	if err != nil {
		return TaskPage{}, err
	}
	if page, ok := ParseTaskPage(html); ok {
		return page, nil
	}

	if sess.needsGuardResponse() {
		guard, _ := sess.Get(GuardCookie)
		sess.Set(GuardResponseCookie, DeriveGuardResponse(guard, c.cfg.GuardSecret))
		html, status, err = c.post(ctx, sess, ips)
		if err != nil {
			return TaskPage{}, err
		}
		if page, ok := ParseTaskPage(html); ok {
			return page, nil
		}
	}

	diag := Diagnose(status, html)
	if IsBlocked(html) {
		return TaskPage{}, fmt.Errorf("%w: %s", ErrBlocked, diag)
	}
	return TaskPage{}, fmt.Errorf("%w: %s", ErrNoTaskID, diag)
}

// post 发送一次任务表单，返回页面内容和状态码
func (c *Client) post(ctx context.Context, sess *Session, ips []string) (string, int, error) {
	form := url.Values{
		"host":        {strings.Join(ips, "\r\n")},
		"node_id":     {strings.Join(c.cfg.Nodes, ",")},
		"cidr_filter": {"false"},
		"gateway":     {"last"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SubmitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("创建请求失败: %w", err)
	}
	c.setBrowserHeaders(req.Header)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", sess.Header())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("提交任务失败: %w", err)
	}
	defer resp.Body.Close()
	sess.Merge(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("读取任务页面失败: %w", err)
	}
	return string(body), resp.StatusCode, nil
}

func (c *Client) setBrowserHeaders(h http.Header) {
	origin := c.origin()
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.Set("Cache-Control", "max-age=0")
	h.Set("Origin", origin)
	h.Set("Referer", c.cfg.SubmitURL)
	h.Set("Sec-Ch-Ua", `"Not(A:Brand";v="8", "Chromium";v="144", "Microsoft Edge";v="144"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("User-Agent", c.cfg.UserAgent)
}

// origin 提交地址的 scheme://host
func (c *Client) origin() string {
	u, err := url.Parse(c.cfg.SubmitURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// collect 优先使用推送通道，失败或不可用时轮询，两者共享同一个截止时间
func (c *Client) collect(ctx context.Context, page TaskPage, token string, expected int) ([]model.NodeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CollectTimeout)
	defer cancel()

	if page.WSSURL != "" {
		results, err := c.CollectPush(ctx, page.WSSURL, page.TaskID, token)
		if err == nil {
			return results, nil
		}
		if c.cfg.PollURL == "" {
			return nil, err
		}
		slog.Warn("推送通道不可用，改为轮询", "err", err)
	}
	if c.cfg.PollURL == "" {
		return nil, ErrNoChannel
	}
	return c.CollectPoll(ctx, page.TaskID, token, expected)
}
