package database

import (
	"context"
	"fmt"

	"github.com/SlpAus/contest-vote-engine/internal/platform/config"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/redis/go-redis/v9"
)

// RDB 是一个全局的Redis客户端实例，供cmd层使用
var RDB *redis.Client

// NewRedis 创建Redis客户端并用Ping测试连接
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return rdb, fmt.Errorf("无法连接到Redis: %w", err)
	}
	return rdb, nil
}

// InitRedis 初始化全局Redis客户端。
// Redis只是计数缓存，连接失败时服务仍然可以启动，状态会被标记为不可用。
func InitRedis(ctx context.Context, cfg config.RedisConfig) {
	rdb, err := NewRedis(ctx, cfg)
	RDB = rdb
	if err != nil {
		logging.Log.Warnf("%v，将以无缓存模式启动", err)
		UpdateStatus(false, "")
		return
	}
	logging.Log.Info("Redis 连接成功！")
}
