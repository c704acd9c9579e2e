package datasource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BestIP_Collector_Go/pkg/model"
)

func TestCollectAllPartialFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Write([]byte("1.2.3.4 and 8.8.8.8"))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer bad.Close()

	f, err := NewHTTPFetcher("", "")
	require.NoError(t, err)
	ips, results := CollectAll(context.Background(), f, []string{bad.URL, ok.URL}, CollectOptions{BatchDelay: 0})

	assert.Equal(t, []string{"1.2.3.4", "8.8.8.8"}, ips)
	require.Len(t, results, 2)
	assert.Equal(t, model.StatusError, results[0].Status)
	assert.Equal(t, 0, results[0].Count)
	assert.Contains(t, results[0].Error, "502")
	assert.Equal(t, model.StatusSuccess, results[1].Status)
	assert.Equal(t, 2, results[1].Count)
}

// fakeFetcher 按 url 返回预设内容并记录并发度
type fakeFetcher struct {
	bodies   map[string]string
	active   int32
	maxSeen  int32
	mu       sync.Mutex
	calledAt []time.Time
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.calledAt = append(f.calledAt, time.Now())
	f.mu.Unlock()
	time.Sleep(10 * time.Millisecond)
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return []byte(body), nil
}

func TestCollectAllBatching(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{
		"https://a.example/": "1.1.1.1",
		"https://b.example/x": "1.0.0.1 10.1.1.1",
		"https://c.example/": "1.1.1.1 9.9.9.9",
		"https://d.example/": "300.1.1.1",
	}}
	urls := []string{"https://a.example/", "https://b.example/x", "https://c.example/", "https://d.example/", "https://e.example/"}

	start := time.Now()
	ips, results := CollectAll(context.Background(), f, urls, CollectOptions{BatchSize: 2, BatchDelay: 50 * time.Millisecond})

	assert.Equal(t, []string{"1.0.0.1", "1.1.1.1", "9.9.9.9"}, ips)
	require.Len(t, results, 5)
	assert.Equal(t, "a.example", results[0].Name)
	assert.Equal(t, "b.example/x", results[1].Name)
	assert.Equal(t, 2, results[1].Count)
	assert.Equal(t, 1, results[3].Count)
	assert.Equal(t, model.StatusError, results[4].Status)
	assert.LessOrEqual(t, atomic.LoadInt32(&f.maxSeen), int32(2))
	// 3 个批次之间有两次间隔
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestCollectAllEmpty(t *testing.T) {
	ips, results := CollectAll(context.Background(), &fakeFetcher{}, nil, CollectOptions{})
	assert.Empty(t, ips)
	assert.Empty(t, results)
}

func TestCollectAllCancelled(t *testing.T) {
	f := &fakeFetcher{bodies: map[string]string{"https://a.example/": "1.1.1.1"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, results := CollectAll(ctx, f, []string{"https://a.example/", "https://b.example/"}, CollectOptions{BatchSize: 1, BatchDelay: time.Second})
	require.Len(t, results, 2)
	assert.Equal(t, model.StatusError, results[1].Status)
}

func TestSourceName(t *testing.T) {
	assert.Equal(t, "ip.164746.xyz", SourceName("https://ip.164746.xyz"))
	assert.Equal(t, "ip.haogege.xyz", SourceName("https://ip.haogege.xyz/"))
	assert.Equal(t, "stock.hostmonit.com/CloudFlareYes", SourceName("https://stock.hostmonit.com/CloudFlareYes"))
	assert.Equal(t, "not a url", SourceName("not a url"))
}

func TestLoadSourcesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.txt")
	require.NoError(t, os.WriteFile(path, []byte("# 注释\nhttps://a.example\n\nhttps://b.example\nhttps://a.example\n"), 0644))
	got, err := LoadSourcesFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, got)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# only comments\n"), 0644))
	_, err = LoadSourcesFromFile(empty)
	assert.Error(t, err)
}
