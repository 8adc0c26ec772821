package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidToken 表示令牌格式错误或签名不匹配
var ErrInvalidToken = errors.New("无效的投票者令牌")

// Signer 签发和验证匿名投票者令牌。
// 令牌格式为 "<uuid v7>.<base64url(HMAC-SHA256(uuid))>"，服务端不需要保存任何状态。
type Signer struct {
	secretKey []byte
}

// NewSigner 使用给定的密钥创建签名器；密钥为空时生成一个32字节的随机密钥，
// 此时重启后之前签发的令牌全部失效。
func NewSigner(secret string) (*Signer, error) {
	if secret != "" {
		return &Signer{secretKey: []byte(secret)}, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("无法生成安全的密钥: %w", err)
	}
	return &Signer{secretKey: key}, nil
}

// Issue 生成一个新的投票者ID并返回对应的令牌
func (s *Signer) Issue() (token string, voterID string, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", "", fmt.Errorf("无法生成投票者ID: %w", err)
	}
	voterID = id.String()
	return voterID + "." + s.sign(voterID), voterID, nil
}

// Verify 验证令牌并返回其中的投票者ID
func (s *Signer) Verify(token string) (string, error) {
	voterID, signature, ok := strings.Cut(token, ".")
	if !ok || voterID == "" || signature == "" {
		return "", ErrInvalidToken
	}
	if _, err := uuid.Parse(voterID); err != nil {
		return "", ErrInvalidToken
	}

	actual, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return "", ErrInvalidToken
	}
	expected := s.mac(voterID)

	// 使用 hmac.Equal 进行时间恒定的比较，防止时序攻击
	if !hmac.Equal(expected, actual) {
		return "", ErrInvalidToken
	}
	return voterID, nil
}

func (s *Signer) sign(voterID string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(voterID))
}

func (s *Signer) mac(voterID string) []byte {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(voterID))
	return mac.Sum(nil)
}
