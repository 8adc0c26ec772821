package health

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/platform/database"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/pkg/lifecycle"
	"github.com/redis/go-redis/v9"
)

const (
	checkInterval = 5 * time.Second
	pingTimeout   = 2 * time.Second
)

var runIDPattern = regexp.MustCompile(`run_id:([a-f0-9]+)`)

// Checker 定期检查Redis的连通性和run_id。
// Redis重启(run_id变化)或从不可用恢复时，缓存中的计数可能已经过期，
// 此时会调用OnReset让缓存层丢弃旧数据。
type Checker struct {
	rdb      *redis.Client
	interval time.Duration
	OnReset  func(ctx context.Context) error
}

// NewChecker 创建健康检查器
func NewChecker(rdb *redis.Client, onReset func(ctx context.Context) error) *Checker {
	return &Checker{rdb: rdb, interval: checkInterval, OnReset: onReset}
}

// getRedisRunID 从Redis服务器信息中提取run_id
func (c *Checker) getRedisRunID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	info, err := c.rdb.Info(ctx, "server").Result()
	if err != nil {
		return "", err
	}
	matches := runIDPattern.FindStringSubmatch(info)
	if len(matches) < 2 {
		return "", fmt.Errorf("无法在Redis INFO中找到run_id")
	}
	return matches[1], nil
}

// InitializeRunID 在应用启动时执行一次，获取并设置初始的run_id。
func (c *Checker) InitializeRunID(ctx context.Context) {
	runID, err := c.getRedisRunID(ctx)
	if err != nil {
		logging.Log.Warnf("无法在启动时获取Redis Run ID: %v", err)
		database.UpdateStatus(false, "")
		return
	}
	database.SetInitialRunID(runID)
	logging.Log.Infof("获取初始Redis Run ID成功: %s", runID)
}

// PerformCheck 执行一次完整的健康检查和可能的缓存重置。
func (c *Checker) PerformCheck(ctx context.Context) {
	currentRunID, err := c.getRedisRunID(ctx)
	if err != nil {
		database.UpdateStatus(false, "")
		return
	}

	lastKnownRunID := database.GetLastKnownRunID()
	wasHealthy := database.IsRedisHealthy()

	if (lastKnownRunID != "" && currentRunID != lastKnownRunID) || !wasHealthy {
		// Redis重启过，或在不可用期间写入的计数没有进入缓存
		if c.OnReset != nil {
			if err := c.OnReset(ctx); err != nil {
				logging.Log.Errorf("健康检查错误: 重置计数缓存失败: %v", err)
				database.UpdateStatus(false, "")
				return
			}
		}
		logging.Log.Infof("健康检查: 计数缓存已重置 (run_id: %s -> %s)", lastKnownRunID, currentRunID)
	}

	database.UpdateStatus(true, currentRunID)
}

// Run 以阻塞方式定期执行健康检查，直到生命周期句柄被取消。
func (c *Checker) Run(handle *lifecycle.Handle) {
	defer handle.Close()
	logging.Log.Info("Redis健康检查器已启动。")

	for {
		if err := handle.Sleep(c.interval); err != nil {
			logging.Log.Info("Redis健康检查器已退出。")
			return
		}
		c.PerformCheck(handle.Ctx())
	}
}
