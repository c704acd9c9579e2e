package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"BestIP_Collector_Go/internal/config"
)

// 快照使用的固定 key
const (
	KeyIPs         = "cloudflare_ips"
	KeyFastIPs     = "cloudflare_fast_ips"
	KeyPingResults = "itdog_ping_results"
)

var (
	// ErrNotFound key 不存在
	ErrNotFound = errors.New("key 不存在")
	// ErrUnavailable 存储后端不可用
	ErrUnavailable = errors.New("存储不可用")
)

// Store 以 key 读写完整的快照，写入总是整体覆盖
type Store interface {
	// Get 读取 key，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// Ping 检查后端是否可用
	Ping(ctx context.Context) error
	Close() error
}

// New 根据配置创建存储后端，cache_ttl 大于 0 时包一层读缓存
func New(cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case "memory":
		return NewMemory(), nil
	case "file", "":
		s, err = NewFile(cfg.Dir)
	case "redis":
		s = NewRedis(cfg.Redis)
	case "s3":
		s, err = NewS3(cfg.S3)
	case "kv":
		s, err = NewKV(cfg.KV)
	default:
		return nil, fmt.Errorf("未知的存储类型: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("快照存储已初始化", "type", cfg.Type)
	if cfg.CacheTTL > 0 {
		s = NewCached(s, cfg.CacheTTL)
	}
	return s, nil
}

// CheckAvailable 在开始任何工作之前确认存储可用
func CheckAvailable(ctx context.Context, s Store) error {
	if s == nil {
		return fmt.Errorf("%w: 未配置存储", ErrUnavailable)
	}
	if err := s.Ping(ctx); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetJSON 读取并解析快照，key 不存在时返回 false
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	return true, nil
}

// PutJSON 序列化并整体覆盖写入快照
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	return nil
}
