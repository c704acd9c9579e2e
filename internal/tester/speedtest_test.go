package tester

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BestIP_Collector_Go/pkg/model"
)

// newSpeedServer 返回测速服务和它监听的端口
func newSpeedServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, port
}

func TestDirectProbe(t *testing.T) {
	_, port := newSpeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		// 域名保持不变，只是连接被指向了目标 IP
		assert.Equal(t, "speed.example.com", r.Host)
		assert.Equal(t, "test-ua", r.Header.Get("User-Agent"))
		n, _ := strconv.Atoi(r.URL.Query().Get("bytes"))
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("cf-ray", "8a1b2c3d4e5f-HKG")
		w.Write([]byte(strings.Repeat("x", n)))
	})

	d := &Direct{
		TestURL:   "http://speed.example.com/__down?bytes=300000",
		Timeout:   5 * time.Second,
		UserAgent: "test-ua",
		Port:      port,
	}
	out, err := d.Probe(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", out.IP)
	assert.Equal(t, "HKG", out.Colo)
	assert.GreaterOrEqual(t, out.LatencyMs, 1)
	assert.Greater(t, out.BandwidthMBps, 0.0)
	assert.Greater(t, out.SmoothedMBps, 0.0)
}

func TestDirectProbeBadStatus(t *testing.T) {
	_, port := newSpeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	d := &Direct{TestURL: "http://speed.example.com/__down?bytes=10", Port: port}
	_, err := d.Probe(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))
	assert.Contains(t, err.Error(), "429")
}

func TestDirectProbeTimeout(t *testing.T) {
	_, port := newSpeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	d := &Direct{TestURL: "http://speed.example.com/", Port: port, Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := d.Probe(context.Background(), "127.0.0.1")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDirectProbeRateLimited(t *testing.T) {
	_, port := newSpeedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 16*1024))
	})
	d := &Direct{TestURL: "http://speed.example.com/", Port: port, Timeout: 10 * time.Second, RateLimitMB: 0.01}
	out, err := d.Probe(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	// 约 10KB/s 的限速下 16KB 至少需要一秒左右
	assert.Less(t, out.BandwidthMBps, 1.0)
}

type fakeMeasurer struct {
	out *model.ProbeOutcome
	err error
}

func (f *fakeMeasurer) Measure(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
	return f.out, f.err
}

func TestDelegatedUsesPing(t *testing.T) {
	fallbackCalled := false
	d := &Delegated{
		Ping: &fakeMeasurer{out: &model.ProbeOutcome{IP: "1.1.1.1", LatencyMs: 42}},
		Fallback: ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			fallbackCalled = true
			return nil, errors.New("should not be called")
		}),
	}
	out, err := d.Probe(context.Background(), "1.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, 42, out.LatencyMs)
	assert.False(t, fallbackCalled)
}

func TestDelegatedFallsBack(t *testing.T) {
	d := &Delegated{
		Ping: &fakeMeasurer{err: errors.New("blocked")},
		Fallback: ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			return &model.ProbeOutcome{IP: ip, LatencyMs: 120, BandwidthMBps: 3.5}, nil
		}),
	}
	out, err := d.Probe(context.Background(), "1.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 120, out.LatencyMs)
	assert.Equal(t, 3.5, out.BandwidthMBps)
}

func TestDelegatedNoFallback(t *testing.T) {
	d := &Delegated{Ping: &fakeMeasurer{err: errors.New("blocked")}}
	_, err := d.Probe(context.Background(), "1.0.0.1")
	assert.EqualError(t, err, "blocked")
}

func TestGetHeaderColo(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	h.Set("cf-ray", "7bd32409eda7b020-SJC")
	assert.Equal(t, "SJC", getHeaderColo(h))
	assert.Equal(t, "", getHeaderColo(http.Header{}))
}
