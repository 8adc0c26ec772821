package api

import (
	"context"
	"net/http"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/platform/database"
	"github.com/SlpAus/contest-vote-engine/internal/platform/metrics"
	"github.com/SlpAus/contest-vote-engine/internal/store"
	"github.com/SlpAus/contest-vote-engine/pkg/token"
	"github.com/gin-gonic/gin"
)

// Dependencies 是注册路由所需的全部组件
type Dependencies struct {
	Store      *store.Module
	Signer     *token.Signer
	Metrics    *metrics.MetricService
	AdminToken string
}

// SetupRoutes 注册项目的所有API路由
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/healthz", healthz(deps.Store))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// 投票、排行榜和管理接口
	deps.Store.RegisterRoutes(router, deps.Signer, deps.AdminToken)
}

// healthz 报告数据库和Redis状态。数据库不可用时返回503；Redis只是缓存，不影响可用性。
func healthz(m *store.Module) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbState := "ok"
		if err := m.Repo.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			dbState = err.Error()
		}
		redisState := "ok"
		if !database.IsRedisHealthy() {
			redisState = "degraded"
		}
		c.JSON(status, gin.H{"database": dbState, "redis": redisState})
	}
}
