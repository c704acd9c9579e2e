package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BestIP_Collector_Go/internal/batchping"
	"BestIP_Collector_Go/internal/config"
	"BestIP_Collector_Go/internal/store"
	"BestIP_Collector_Go/internal/tester"
	"BestIP_Collector_Go/pkg/model"
)

type mapFetcher map[string]string

func (m mapFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, ok := m[rawURL]
	if !ok {
		return nil, errors.New("HTTP 500: Internal Server Error")
	}
	return []byte(body), nil
}

type fakePinger struct {
	calls  int32
	gotIPs []string
	result *batchping.TaskResult
	err    error
}

func (p *fakePinger) Run(ctx context.Context, ips []string) (*batchping.TaskResult, error) {
	atomic.AddInt32(&p.calls, 1)
	p.gotIPs = ips
	if p.err != nil {
		return nil, p.err
	}
	res := *p.result
	res.IPs = ips
	return &res, nil
}

func (p *fakePinger) Weight() batchping.WeightFunc { return nil }
func (p *fakePinger) MaxIPs() int                  { return 2 }

// latencyProber 按 ip 返回预设延迟，未登记的 ip 视为失败
func latencyProber(latency map[string]int) tester.ProberFunc {
	return func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
		l, ok := latency[ip]
		if !ok {
			return nil, fmt.Errorf("%s unreachable", ip)
		}
		return &model.ProbeOutcome{IP: ip, LatencyMs: l, BandwidthMBps: 1}, nil
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Rank.BatchDelay = 0
	cfg.Sources.BatchDelay = 0
	cfg.Rank.TopK = 25
	return cfg
}

func newTestEngine(deps Deps) (*Engine, *store.Memory) {
	mem := store.NewMemory()
	deps.Store = mem
	return New(testConfig(), deps), mem
}

func TestUpdateStoresSnapshot(t *testing.T) {
	e, _ := newTestEngine(Deps{
		Fetcher: mapFetcher{
			"https://a.example/ips": "8.8.8.8 1.1.1.1 10.0.0.1",
			"https://b.example/ips": "1.1.1.1 9.9.9.9",
		},
		Sources: []string{"https://a.example/ips", "https://b.example/ips", "https://c.example/ips"},
	})

	res, err := e.Update(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"}, res.Snapshot.IPs)
	assert.Equal(t, 3, res.Snapshot.Count)
	require.Len(t, res.Snapshot.Sources, 3)
	assert.Equal(t, model.StatusError, res.Snapshot.Sources[2].Status)

	stored, err := e.StoredIPs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.IPs, stored.IPs)
	assert.Equal(t, 3, stored.Count)
}

func TestUpdateIdempotent(t *testing.T) {
	e, _ := newTestEngine(Deps{
		Fetcher: mapFetcher{"https://a.example/ips": "8.8.8.8 1.1.1.1"},
		Sources: []string{"https://a.example/ips"},
	})
	first, err := e.Update(context.Background(), nil)
	require.NoError(t, err)
	second, err := e.Update(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.Snapshot.IPs, second.Snapshot.IPs)
}

func TestStoredSnapshotsEmpty(t *testing.T) {
	e, _ := newTestEngine(Deps{})
	ips, err := e.StoredIPs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ips.IPs)
	assert.NotNil(t, ips.IPs)

	fast, err := e.StoredFastIPs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fast.FastIPs)

	_, found, err := e.StoredPingResults(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorageDownIsFatalBeforeWork(t *testing.T) {
	var probed int32
	e, mem := newTestEngine(Deps{
		Fetcher: mapFetcher{},
		Prober: tester.ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			atomic.AddInt32(&probed, 1)
			return &model.ProbeOutcome{IP: ip}, nil
		}),
	})
	mem.Down = true

	_, err := e.Update(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = e.RankAndStore(context.Background(), []string{"1.1.1.1"}, 0, 5, nil)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Zero(t, atomic.LoadInt32(&probed))
	assert.False(t, e.Running())
}

func TestRankOrdering(t *testing.T) {
	entries := Rank([]model.ProbeOutcome{
		{IP: "a", LatencyMs: 80, BandwidthMBps: 1},
		{IP: "b", LatencyMs: 50, BandwidthMBps: 1},
		{IP: "c", LatencyMs: 50, BandwidthMBps: 3},
		{IP: "d", LatencyMs: model.UnreachableLatency},
		{IP: "e", LatencyMs: 50, BandwidthMBps: 3},
	}, 4)
	ips := make([]string, len(entries))
	for i, en := range entries {
		ips[i] = en.IP
	}
	assert.Equal(t, []string{"c", "e", "b", "a"}, ips)
}

func TestRankAndStoreDropsFailures(t *testing.T) {
	e, _ := newTestEngine(Deps{
		Prober: latencyProber(map[string]int{"1.0.0.1": 90, "1.0.0.3": 30, "1.0.0.5": 60}),
	})
	candidates := []string{"1.0.0.1", "1.0.0.2", "1.0.0.3", "1.0.0.4", "1.0.0.5"}

	snap, err := e.RankAndStore(context.Background(), candidates, 0, 10, nil)
	require.NoError(t, err)
	require.Len(t, snap.FastIPs, 3)
	assert.Equal(t, "1.0.0.3", snap.FastIPs[0].IP)
	assert.Equal(t, "1.0.0.1", snap.FastIPs[2].IP)
	assert.Equal(t, 3, snap.Count)
	assert.Equal(t, 3, snap.TestedCount)
	assert.Equal(t, 5, snap.TotalIPs)

	stored, err := e.StoredFastIPs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.FastIPs, stored.FastIPs)
}

func TestRankAndStoreOverwritesWithSmallerSet(t *testing.T) {
	latency := map[string]int{"1.0.0.1": 10, "1.0.0.2": 20, "1.0.0.3": 30}
	e, _ := newTestEngine(Deps{Prober: latencyProber(latency)})

	_, err := e.RankAndStore(context.Background(), []string{"1.0.0.1", "1.0.0.2", "1.0.0.3"}, 0, 10, nil)
	require.NoError(t, err)

	delete(latency, "1.0.0.1")
	delete(latency, "1.0.0.2")
	_, err = e.RankAndStore(context.Background(), []string{"1.0.0.1", "1.0.0.2", "1.0.0.3"}, 0, 10, nil)
	require.NoError(t, err)

	stored, err := e.StoredFastIPs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Count)
	require.Len(t, stored.FastIPs, 1)
	assert.Equal(t, "1.0.0.3", stored.FastIPs[0].IP)
}

func TestRankAndStoreTruncatesCandidates(t *testing.T) {
	var probed int32
	e, _ := newTestEngine(Deps{
		Prober: tester.ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			atomic.AddInt32(&probed, 1)
			return &model.ProbeOutcome{IP: ip, LatencyMs: 10}, nil
		}),
	})
	snap, err := e.RankAndStore(context.Background(), []string{"a", "b", "c", "d", "e"}, 3, 2, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&probed))
	assert.Len(t, snap.FastIPs, 2)
}

func TestSpeedTestWithoutIPs(t *testing.T) {
	e, _ := newTestEngine(Deps{Prober: latencyProber(nil)})
	_, err := e.SpeedTest(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrNoIPs)
}

func TestSpeedTestClampsToCeiling(t *testing.T) {
	var probed int32
	e, mem := newTestEngine(Deps{
		Prober: tester.ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			atomic.AddInt32(&probed, 1)
			return &model.ProbeOutcome{IP: ip, LatencyMs: 10}, nil
		}),
	})
	e.cfg.Rank.MaxTestsCeiling = 4
	ips := []string{"1.0.0.1", "1.0.0.2", "1.0.0.3", "1.0.0.4", "1.0.0.5", "1.0.0.6"}
	require.NoError(t, store.PutJSON(context.Background(), mem, store.KeyIPs, &model.IPSnapshot{IPs: ips, Count: len(ips)}))

	snap, err := e.SpeedTest(context.Background(), 100, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(&probed))
	assert.Equal(t, 6, snap.TotalIPs)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	e, _ := newTestEngine(Deps{
		Prober: tester.ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			close(started)
			<-release
			return &model.ProbeOutcome{IP: ip, LatencyMs: 10}, nil
		}),
	})

	done := make(chan error, 1)
	go func() {
		_, err := e.RankAndStore(context.Background(), []string{"1.1.1.1"}, 0, 5, nil)
		done <- err
	}()
	<-started
	assert.True(t, e.Running())
	_, err := e.Update(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("测速未结束")
	}
	assert.False(t, e.Running())
}

func TestBatchPingStoresResults(t *testing.T) {
	pinger := &fakePinger{result: &batchping.TaskResult{
		TaskID: "t1",
		Results: []model.NodeResult{
			{NodeID: "1", IP: "1.0.0.1", Result: 40},
			{NodeID: "2", IP: "1.0.0.1", Result: 60},
			{NodeID: "1", TaskNum: 2, Result: 20},
			{NodeID: "2", IP: "1.0.0.2", Result: -1},
		},
	}}
	e, mem := newTestEngine(Deps{Pinger: pinger})
	ips := []string{"1.0.0.1", "1.0.0.2", "1.0.0.3"}
	require.NoError(t, store.PutJSON(context.Background(), mem, store.KeyIPs, &model.IPSnapshot{IPs: ips, Count: 3}))

	res, err := e.BatchPing(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0.1", "1.0.0.2"}, pinger.gotIPs)

	require.Len(t, res.FastIPs.FastIPs, 2)
	assert.Equal(t, "1.0.0.2", res.FastIPs.FastIPs[0].IP)
	assert.Equal(t, 20, res.FastIPs.FastIPs[0].LatencyMs)
	assert.Equal(t, 50, res.FastIPs.FastIPs[1].LatencyMs)
	assert.Equal(t, "batchping", res.FastIPs.Strategy)

	ping, found, err := e.StoredPingResults(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, ping.IPCount)
	assert.Equal(t, 4, ping.NodeCount)
}

func TestBatchPingWithoutIPs(t *testing.T) {
	pinger := &fakePinger{}
	e, _ := newTestEngine(Deps{Pinger: pinger})
	_, err := e.BatchPing(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoIPs)
	assert.Zero(t, atomic.LoadInt32(&pinger.calls))
}

func TestBatchPingFailureKeepsPreviousSnapshot(t *testing.T) {
	pinger := &fakePinger{err: batchping.ErrBlocked}
	e, mem := newTestEngine(Deps{Pinger: pinger})
	prev := &model.FastIPSnapshot{FastIPs: []model.RankedEntry{{IP: "9.9.9.9", LatencyMs: 1}}, Count: 1}
	require.NoError(t, store.PutJSON(context.Background(), mem, store.KeyFastIPs, prev))

	_, err := e.BatchPing(context.Background(), []string{"1.0.0.1"}, nil)
	assert.ErrorIs(t, err, batchping.ErrBlocked)

	stored, err := e.StoredFastIPs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, prev.FastIPs, stored.FastIPs)
}

func TestRunUpdatesThenRanks(t *testing.T) {
	e, _ := newTestEngine(Deps{
		Fetcher: mapFetcher{"https://a.example/ips": "1.0.0.1 1.0.0.2"},
		Sources: []string{"https://a.example/ips"},
		Prober:  latencyProber(map[string]int{"1.0.0.2": 15}),
	})
	var messages atomic.Int32
	require.NoError(t, e.Run(context.Background(), func(string) { messages.Add(1) }))
	assert.Positive(t, messages.Load())

	fast, err := e.StoredFastIPs(context.Background())
	require.NoError(t, err)
	require.Len(t, fast.FastIPs, 1)
	assert.Equal(t, "1.0.0.2", fast.FastIPs[0].IP)
}

func TestRankAndStoreIdempotent(t *testing.T) {
	latency := map[string]int{"1.0.0.1": 50, "1.0.0.2": 30, "1.0.0.3": 50, "1.0.0.4": 30, "1.0.0.5": 70}
	bandwidth := map[string]float64{"1.0.0.1": 2, "1.0.0.2": 1, "1.0.0.3": 4, "1.0.0.4": 3, "1.0.0.5": 9}
	e, _ := newTestEngine(Deps{
		Prober: tester.ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			return &model.ProbeOutcome{IP: ip, LatencyMs: latency[ip], BandwidthMBps: bandwidth[ip]}, nil
		}),
	})
	candidates := []string{"1.0.0.1", "1.0.0.2", "1.0.0.3", "1.0.0.4", "1.0.0.5"}

	first, err := e.RankAndStore(context.Background(), candidates, 0, 4, nil)
	require.NoError(t, err)
	second, err := e.RankAndStore(context.Background(), candidates, 0, 4, nil)
	require.NoError(t, err)

	assert.Equal(t, first.FastIPs, second.FastIPs)
	ips := make([]string, len(second.FastIPs))
	for i, en := range second.FastIPs {
		ips[i] = en.IP
	}
	assert.Equal(t, []string{"1.0.0.4", "1.0.0.2", "1.0.0.3", "1.0.0.1"}, ips)
}

// pingCounter 统计可用性检查次数，每次占用引擎检查一次
type pingCounter struct {
	*store.Memory
	pings atomic.Int32
}

func (p *pingCounter) Ping(ctx context.Context) error {
	p.pings.Add(1)
	return p.Memory.Ping(ctx)
}

func TestRunHoldsGuardAcrossSteps(t *testing.T) {
	st := &pingCounter{Memory: store.NewMemory()}
	var e *Engine
	var busy atomic.Int32
	e = New(testConfig(), Deps{
		Store:   st,
		Fetcher: mapFetcher{"https://a.example/ips": "1.0.0.1"},
		Sources: []string{"https://a.example/ips"},
		Prober: tester.ProberFunc(func(ctx context.Context, ip string) (*model.ProbeOutcome, error) {
			if _, err := e.BatchPing(ctx, []string{ip}, nil); errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
			return &model.ProbeOutcome{IP: ip, LatencyMs: 10}, nil
		}),
		Pinger: &fakePinger{result: &batchping.TaskResult{}},
	})

	require.NoError(t, e.Run(context.Background(), nil))
	assert.EqualValues(t, 1, st.pings.Load())
	assert.EqualValues(t, 1, busy.Load())
	assert.False(t, e.Running())
}

func writeVantages(t *testing.T, path string, weighted bool) {
	t.Helper()
	data := fmt.Sprintf(`[{"id":"1310","carrier":"电信","city":"上海","regional_weighted":%t}]`, weighted)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

func TestApplyReloadsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vantages.json")
	writeVantages(t, path, true)

	cfg := testConfig()
	cfg.Ping.VantageFile = path
	e, err := Build(cfg, store.NewMemory(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.3, e.catalog.Weight("1310", 1.3))

	writeVantages(t, path, false)
	require.NoError(t, e.Apply(cfg))
	assert.Equal(t, 1.0, e.catalog.Weight("1310", 1.3))
	_, deps := e.snapshot()
	assert.Equal(t, 1.0, deps.Pinger.Weight()("1310"))

	writeVantages(t, path, true)
	require.NoError(t, e.Apply(cfg))
	bad := testConfig()
	bad.Ping.VantageFile = filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, e.Apply(bad))
	assert.Equal(t, 1.3, e.catalog.Weight("1310", 1.3))
}
