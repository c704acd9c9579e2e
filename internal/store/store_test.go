package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BestIP_Collector_Go/internal/config"
)

type snapshot struct {
	IPs   []string `json:"ips"`
	Count int      `json:"count"`
}

func testRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	var got snapshot
	found, err := GetJSON(ctx, s, KeyIPs, &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, PutJSON(ctx, s, KeyIPs, snapshot{IPs: []string{"1.1.1.1", "8.8.8.8"}, Count: 2}))
	found, err = GetJSON(ctx, s, KeyIPs, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, got.Count)

	// 整体覆盖，不做合并
	require.NoError(t, PutJSON(ctx, s, KeyIPs, snapshot{IPs: []string{"1.0.0.1"}, Count: 1}))
	got = snapshot{}
	_, err = GetJSON(ctx, s, KeyIPs, &got)
	require.NoError(t, err)
	assert.Equal(t, snapshot{IPs: []string{"1.0.0.1"}, Count: 1}, got)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	testRoundTrip(t, m)
	require.NoError(t, CheckAvailable(context.Background(), m))

	m.Down = true
	err := CheckAvailable(context.Background(), m)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFile(t *testing.T) {
	f, err := NewFile(t.TempDir())
	require.NoError(t, err)
	testRoundTrip(t, f)
	assert.NoError(t, f.Ping(context.Background()))
	assert.Equal(t, f.path("a_b"), f.path("a/b"))
}

// fakeKV 模拟 Worker KV 网关
type fakeKV struct {
	mu       sync.Mutex
	data     map[string]string
	failures int32
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/storage" || r.URL.Query().Get("token") != "tok" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		v, ok := f.data[r.URL.Query().Get("key")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(v))
	case http.MethodPost:
		if atomic.AddInt32(&f.failures, -1) >= 0 {
			http.Error(w, "temporary", http.StatusServiceUnavailable)
			return
		}
		var p KVPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.data[p.Filename] = p.Value
	}
}

func newTestKV(t *testing.T, fake *fakeKV, token string) *KV {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	kv, err := NewKV(config.KVConfig{URL: srv.URL + "/", Token: token})
	require.NoError(t, err)
	kv.retryInterval = 10 * time.Millisecond
	return kv
}

func TestKV(t *testing.T) {
	fake := &fakeKV{data: map[string]string{}}
	kv := newTestKV(t, fake, "tok")
	testRoundTrip(t, kv)
	assert.NoError(t, kv.Ping(context.Background()))
}

func TestKVRetry(t *testing.T) {
	fake := &fakeKV{data: map[string]string{}, failures: 2}
	kv := newTestKV(t, fake, "tok")
	require.NoError(t, kv.Put(context.Background(), KeyFastIPs, []byte(`{"count":1}`)))
	assert.Equal(t, `{"count":1}`, fake.data[KeyFastIPs])

	fake.failures = 5
	err := kv.Put(context.Background(), KeyFastIPs, []byte(`{}`))
	assert.Error(t, err)
}

func TestKVBadToken(t *testing.T) {
	kv := newTestKV(t, &fakeKV{data: map[string]string{}}, "wrong")
	err := CheckAvailable(context.Background(), kv)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewKVValidation(t *testing.T) {
	_, err := NewKV(config.KVConfig{})
	assert.Error(t, err)
	_, err = NewKV(config.KVConfig{URL: "https://kv.example.com"})
	assert.Error(t, err)
}

type countingStore struct {
	*Memory
	gets int32
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt32(&c.gets, 1)
	return c.Memory.Get(ctx, key)
}

func TestCached(t *testing.T) {
	base := &countingStore{Memory: NewMemory()}
	c := NewCached(base, time.Minute)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, KeyIPs, []byte("v1")))
	v, err := c.Get(ctx, KeyIPs)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))
	assert.Equal(t, int32(0), atomic.LoadInt32(&base.gets))

	require.NoError(t, c.Put(ctx, KeyIPs, []byte("v2")))
	v, err = c.Get(ctx, KeyIPs)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(v))

	_, err = c.Get(ctx, KeyFastIPs)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&base.gets))
}

func TestNewFromConfig(t *testing.T) {
	s, err := New(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = New(config.StorageConfig{Type: "file", Dir: t.TempDir(), CacheTTL: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, s)
	s.Close()

	_, err = New(config.StorageConfig{Type: "s3"})
	assert.Error(t, err)

	_, err = New(config.StorageConfig{Type: "nope"})
	assert.Error(t, err)

	r, err := New(config.StorageConfig{Type: "redis", Redis: config.RedisConfig{Addr: "127.0.0.1:0"}})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, r)
	r.Close()
}
