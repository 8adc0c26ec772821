package shutdown

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/pkg/lifecycle"
)

const (
	httpTimeout     = 15 * time.Second
	gracefulTimeout = 30 * time.Second
	forcefulTimeout = 1 * time.Second
)

// Coordinator 负责编排应用程序的优雅停机流程。
// 它接收外部创建的生命周期管理器，并使用它们来协调停机。
type Coordinator struct {
	GracefulManager *lifecycle.Manager
	ForcefulManager *lifecycle.Manager
	// Cleanups 在所有后台服务退出后按顺序执行，用于关闭数据库和Redis连接
	Cleanups []func() error
}

// NewCoordinator 创建一个新的停机协调器。
func NewCoordinator(gracefulMgr, forcefulMgr *lifecycle.Manager, cleanups ...func() error) *Coordinator {
	return &Coordinator{
		GracefulManager: gracefulMgr,
		ForcefulManager: forcefulMgr,
		Cleanups:        cleanups,
	}
}

// ListenForSignalsAndShutdown 阻塞直到收到停机信号或ctx被取消（例如HTTP服务器启动失败），
// 然后执行完整的停机流程。
func (c *Coordinator) ListenForSignalsAndShutdown(ctx context.Context, server *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logging.Log.Infof("收到关闭信号 (%v)，开始优雅停机...", sig)
	case <-ctx.Done():
		logging.Log.Warn("服务已停止运行，开始停机...")
	}

	c.Shutdown(server)
}

// Shutdown 执行停机流程：关闭HTTP服务器，然后分两阶段停止后台服务，最后释放资源。
func (c *Coordinator) Shutdown(server *http.Server) {
	// 关闭HTTP服务器，允许正在进行的请求完成
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Log.Errorf("Gin服务器关闭错误: %v", err)
	} else {
		logging.Log.Info("Gin服务器已关闭。")
	}

	// --- 阶段一: 优雅停机 ---
	logging.Log.Infof("第一阶段停机：等待最多 %v 以完成任务...", gracefulTimeout)
	c.GracefulManager.Shutdown()

	remaining := c.GracefulManager.WaitWithTimeout(gracefulTimeout)
	if len(remaining) == 0 {
		logging.Log.Info("所有服务已在第一阶段优雅关闭。")
	} else {
		// --- 阶段二: 强制停机 ---
		logging.Log.Warnf("第一阶段超时，仍在运行: %v。发送第二停机信号 (最多等待 %v)...", remaining, forcefulTimeout)
		c.ForcefulManager.Shutdown()
		if stuck := c.ForcefulManager.WaitWithTimeout(forcefulTimeout); len(stuck) > 0 {
			logging.Log.Errorf("以下服务未能退出: %v", stuck)
		}
	}

	// --- 最终步骤 ---
	for _, cleanup := range c.Cleanups {
		if err := cleanup(); err != nil {
			logging.Log.Errorf("释放资源失败: %v", err)
		}
	}
	logging.Log.Info("优雅停机完成。")
}
