package store

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminTokenHeader 是管理接口的鉴权请求头
const AdminTokenHeader = "x-admin-token"

// AdminAuthMiddleware 校验管理令牌，未配置令牌时拒绝所有管理请求
func AdminAuthMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(AdminTokenHeader)
		if adminToken == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "无权访问管理接口"})
			return
		}
		c.Next()
	}
}

type addContestantBody struct {
	Name string `json:"name" binding:"required"`
}

type setStatusBody struct {
	Status string `json:"status" binding:"required"`
}

type closeContestBody struct {
	Winners int `json:"winners"`
}

// CreateContest 处理 POST /admin/contests
func (h *Handler) CreateContest(c *gin.Context) {
	var body CreateContestInput
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	created, err := h.svc.CreateContest(c.Request.Context(), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// AddContestant 处理 POST /admin/contests/:contestId/contestants
func (h *Handler) AddContestant(c *gin.Context) {
	var body addContestantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	cs, err := h.svc.AddContestant(c.Request.Context(), c.Param("contestId"), body.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

// SetStatus 处理 PUT /admin/contests/:contestId/status
func (h *Handler) SetStatus(c *gin.Context) {
	var body setStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	updated, err := h.svc.SetStatus(c.Request.Context(), c.Param("contestId"), body.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// CloseContest 处理 POST /admin/contests/:contestId/close
func (h *Handler) CloseContest(c *gin.Context) {
	var body closeContestBody
	// 请求体可以为空，此时只标注第一名
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
			return
		}
	}
	closed, err := h.svc.CloseContest(c.Request.Context(), c.Param("contestId"), body.Winners)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, closed)
}
