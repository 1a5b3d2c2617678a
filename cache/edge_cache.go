package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// EdgeEntry edge 代理缓存的一条响应
type EdgeEntry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body,omitempty"`
	Object   string      `json:"object,omitempty"` // 大响应体存放在对象存储中的名字
	StoredAt time.Time   `json:"storedAt"`
}

// ObjectStore 大响应体的存放位置
type ObjectStore interface {
	PutObject(ctx context.Context, name string, data []byte, contentType string) error
	GetObject(ctx context.Context, name string) ([]byte, error)
}

// hashKey 完整请求 URL 可能很长，统一取摘要
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ========== 内存实现 ==========

type memoryEntry struct {
	entry     *EdgeEntry
	expiresAt time.Time
}

// MemoryEdgeCache 进程内 edge 缓存，Redis 不可用时使用
type MemoryEdgeCache struct {
	entries *FIFO[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryEdgeCache 创建最多保存 size 条响应的内存缓存
func NewMemoryEdgeCache(size int) *MemoryEdgeCache {
	return &MemoryEdgeCache{
		entries: NewFIFO[string, memoryEntry](size),
		now:     time.Now,
	}
}

func (m *MemoryEdgeCache) Get(_ context.Context, key string) (*EdgeEntry, error) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		m.entries.Remove(key)
		return nil, ErrMiss
	}
	return e.entry, nil
}

func (m *MemoryEdgeCache) Put(_ context.Context, key string, entry *EdgeEntry, ttl time.Duration) error {
	e := memoryEntry{entry: entry}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries.Add(key, e)
	return nil
}

// ========== Redis 实现 ==========

// RedisEdgeCache 以 Redis 保存响应头和小响应体，超过阈值的响应体转存对象存储
type RedisEdgeCache struct {
	client    *redis.Client
	objects   ObjectStore
	threshold int64
	prefix    string
}

// NewRedisEdgeCache objects 为 nil 或 threshold<=0 时所有响应体都直接写入 Redis
func NewRedisEdgeCache(client *redis.Client, objects ObjectStore, threshold int64) *RedisEdgeCache {
	return &RedisEdgeCache{
		client:    client,
		objects:   objects,
		threshold: threshold,
		prefix:    "edge:",
	}
}

func (r *RedisEdgeCache) redisKey(key string) string {
	return r.prefix + hashKey(key)
}

func (r *RedisEdgeCache) Get(ctx context.Context, key string) (*EdgeEntry, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to read edge entry: %w", err)
	}

	var entry EdgeEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("corrupt edge entry: %w", err)
	}

	if entry.Object != "" {
		if r.objects == nil {
			return nil, ErrMiss
		}
		body, err := r.objects.GetObject(ctx, entry.Object)
		if err != nil {
			return nil, fmt.Errorf("failed to read edge object %s: %w", entry.Object, err)
		}
		entry.Body = body
	}
	return &entry, nil
}

func (r *RedisEdgeCache) Put(ctx context.Context, key string, entry *EdgeEntry, ttl time.Duration) error {
	stored := *entry
	if r.objects != nil && r.threshold > 0 && int64(len(entry.Body)) > r.threshold {
		name := "edge/" + hashKey(key)
		if err := r.objects.PutObject(ctx, name, entry.Body, entry.Header.Get("Content-Type")); err != nil {
			return fmt.Errorf("failed to store edge object: %w", err)
		}
		stored.Body = nil
		stored.Object = name
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal edge entry: %w", err)
	}
	if err := r.client.Set(ctx, r.redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write edge entry: %w", err)
	}
	return nil
}
