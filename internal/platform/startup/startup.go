package startup

import (
	"context"
	"fmt"

	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/internal/store"
)

// InitializeApplication 是应用首次启动时执行的总入口：迁移表结构并预热缓存
func InitializeApplication(ctx context.Context, m *store.Module) error {
	logging.Log.Info("开始应用首次初始化...")

	if err := m.Prime(ctx); err != nil {
		return fmt.Errorf("初始化投票模块失败: %w", err)
	}

	logging.Log.Info("应用初始化完成！")
	return nil
}

// RebuildCache 返回一个在运行时热重建Redis缓存的函数，供健康检查器在Redis重启或恢复后调用
func RebuildCache(m *store.Module) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		logging.Log.Info("开始缓存热重建...")
		if err := m.Service.ResetCache(ctx); err != nil {
			return err
		}
		if err := m.Service.Warmup(ctx); err != nil {
			return err
		}
		logging.Log.Info("缓存热重建完成。")
		return nil
	}
}
