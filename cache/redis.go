package cache

import (
	"context"
	"fmt"
	"time"

	"musicsquare/config"

	"github.com/go-redis/redis/v8"
)

// RedisClient 是全局Redis客户端，edge 缓存未启用 Redis 时为 nil
var RedisClient *redis.Client

// ConnectRedis 初始化Redis连接
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		RedisClient = nil
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// TestRedis 用一条 edge 缓存条目验证读写与过期
func TestRedis(ctx context.Context) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	store := NewRedisEdgeCache(RedisClient, nil, 0)
	probe := &EdgeEntry{Status: 200, Body: []byte("edge cache probe")}
	key := "probe:" + time.Now().Format(time.RFC3339Nano)

	if err := store.Put(ctx, key, probe, time.Minute); err != nil {
		return fmt.Errorf("failed to write probe entry: %w", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read probe entry: %w", err)
	}
	if string(got.Body) != string(probe.Body) {
		return fmt.Errorf("unexpected probe body from Redis: got %q", got.Body)
	}
	if err := RedisClient.Del(ctx, store.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete probe entry: %w", err)
	}
	return nil
}
