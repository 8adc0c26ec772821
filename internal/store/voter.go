package store

import (
	"net/http"

	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/pkg/token"
	"github.com/gin-gonic/gin"
)

const (
	VoterTokenHeader  = "X-Voter-Token"
	VoterCookieName   = "voter-token"
	VoterCookieMaxAge = 365 * 24 * 60 * 60
	VoterIDKey        = "voterID"
)

// VoterMiddleware 为每个请求确定匿名投票者身份。
// 依次读取 X-Voter-Token 请求头和 voter-token cookie；都不存在或签名无效时签发新令牌，
// 写入cookie并通过响应头返回，客户端应在之后的请求中带上它。
func VoterMiddleware(signer *token.Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(VoterTokenHeader)
		if raw == "" {
			raw, _ = c.Cookie(VoterCookieName)
		}

		if raw != "" {
			if voterID, err := signer.Verify(raw); err == nil {
				c.Set(VoterIDKey, voterID)
				c.Next()
				return
			}
			logging.Log.WithField("ip", c.ClientIP()).Debug("检测到无效的投票者令牌，重新签发")
		}

		issued, voterID, err := signer.Issue()
		if err != nil {
			logging.Log.Errorf("签发投票者令牌失败: %v", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "无法识别投票者"})
			return
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(VoterCookieName, issued, VoterCookieMaxAge, "/", "", false, true)
		c.Header(VoterTokenHeader, issued)
		c.Set(VoterIDKey, voterID)
		c.Next()
	}
}

// voterID 从上下文中读取中间件设置的投票者ID
func voterID(c *gin.Context) string {
	return c.GetString(VoterIDKey)
}
