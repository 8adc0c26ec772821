package store

import (
	"net/http"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/gin-gonic/gin"
)

// Handler 是投票服务的HTTP处理器
type Handler struct {
	svc *Service
}

// NewHandler 创建HTTP处理器
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// respondError 把业务错误写成 {"error": "..."} 响应，内部错误不向客户端暴露细节
func respondError(c *gin.Context, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		logging.Log.WithField("path", c.FullPath()).Errorf("处理请求失败: %v", err)
		c.JSON(status, gin.H{"error": "服务器内部错误"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// GetContest 处理 GET /contests/:contestId
func (h *Handler) GetContest(c *gin.Context) {
	found, err := h.svc.Contest(c.Request.Context(), c.Param("contestId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// GetContestants 处理 GET /contests/:contestId/contestants，轮询器依赖它获取完整快照
func (h *Handler) GetContestants(c *gin.Context) {
	snap, err := h.svc.Snapshot(c.Request.Context(), c.Param("contestId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, snap)
}

// GetMyVotes 处理 GET /contests/:contestId/my-votes
func (h *Handler) GetMyVotes(c *gin.Context) {
	ledger, err := h.svc.VoterLedger(c.Request.Context(), c.Param("contestId"), voterID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ledger)
}

// CastVote 处理 POST /contest-votes
func (h *Handler) CastVote(c *gin.Context) {
	var body contest.VoteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if err := h.svc.CastVote(c.Request.Context(), voterID(c), body.ContestID, body.ContestantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "投票成功"})
}

// RemoveVote 处理 DELETE /contest-votes/:contestantId
func (h *Handler) RemoveVote(c *gin.Context) {
	if err := h.svc.RemoveVote(c.Request.Context(), voterID(c), c.Param("contestantId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "撤票成功"})
}
