package tester

import (
	"context"
	"errors"
	"log/slog"

	"BestIP_Collector_Go/pkg/model"
)

// ErrStatus 测速地址返回了非 2xx 状态码
var ErrStatus = errors.New("无效的状态码")

// Prober 测量单个 IP，返回错误时调用方把该 IP 排除出排名
type Prober interface {
	Probe(ctx context.Context, ip string) (*model.ProbeOutcome, error)
}

// ProberFunc 让普通函数实现 Prober
type ProberFunc func(ctx context.Context, ip string) (*model.ProbeOutcome, error)

func (f ProberFunc) Probe(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
	return f(ctx, ip)
}

// Measurer 由外部批量 ping 客户端实现
type Measurer interface {
	Measure(ctx context.Context, ip string) (*model.ProbeOutcome, error)
}

// Delegated 先交给外部 ping 服务测量，失败时改用直连测速
type Delegated struct {
	Ping     Measurer
	Fallback Prober
}

func (d *Delegated) Probe(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
	out, err := d.Ping.Measure(ctx, ip)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	slog.Warn("外部 ping 失败，改用直连测速", "ip", ip, "err", err)
	if d.Fallback == nil {
		return nil, err
	}
	return d.Fallback.Probe(ctx, ip)
}
