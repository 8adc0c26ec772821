package store

import (
	"context"

	"github.com/SlpAus/contest-vote-engine/internal/platform/metrics"
	"github.com/SlpAus/contest-vote-engine/pkg/token"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Module 组装了投票服务的各层
type Module struct {
	Repo    *Repository
	Cache   *CounterCache
	Service *Service
	Handler *Handler
}

// NewModule 用数据库、Redis和指标服务组装模块，rdb可以为nil
func NewModule(db *gorm.DB, rdb *redis.Client, ms *metrics.MetricService) *Module {
	repo := NewRepository(db)
	cache := NewCounterCache(rdb, ms)
	svc := NewService(repo, cache, ms)
	return &Module{Repo: repo, Cache: cache, Service: svc, Handler: NewHandler(svc)}
}

// Prime 迁移表结构并预热进行中比赛的票数缓存
func (m *Module) Prime(ctx context.Context) error {
	if err := m.Repo.Migrate(); err != nil {
		return err
	}
	return m.Service.Warmup(ctx)
}

// RegisterRoutes 注册投票相关的公开接口和管理接口
func (m *Module) RegisterRoutes(r gin.IRouter, signer *token.Signer, adminToken string) {
	h := m.Handler

	contests := r.Group("/contests/:contestId")
	{
		contests.GET("", h.GetContest)
		contests.GET("/contestants", h.GetContestants)
		contests.GET("/my-votes", VoterMiddleware(signer), h.GetMyVotes)
	}

	votes := r.Group("/contest-votes", VoterMiddleware(signer))
	{
		votes.POST("", h.CastVote)
		votes.DELETE("/:contestantId", h.RemoveVote)
	}

	admin := r.Group("/admin", AdminAuthMiddleware(adminToken))
	{
		admin.POST("/contests", h.CreateContest)
		admin.POST("/contests/:contestId/contestants", h.AddContestant)
		admin.PUT("/contests/:contestId/status", h.SetStatus)
		admin.POST("/contests/:contestId/close", h.CloseContest)
	}
}
