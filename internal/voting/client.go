package voting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
)

// VoterTokenHeader 是携带匿名投票者身份的请求头
const VoterTokenHeader = "X-Voter-Token"

// VoteStore 是投票协调器依赖的远端写接口
type VoteStore interface {
	CastVote(ctx context.Context, contestID, contestantID string) error
	RemoveVote(ctx context.Context, contestantID string) error
}

// Client 通过HTTP访问投票服务。
// 投票接口是匿名的，身份由服务端签发的投票者令牌标识；
// 如果创建时没有令牌，会记住服务端在第一次响应中签发的令牌。
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	voterToken string
}

// NewClient 创建一个投票服务客户端，httpClient为nil时使用带10秒超时的默认客户端
func NewClient(baseURL, voterToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		voterToken: voterToken,
	}
}

// VoterToken 返回当前使用的投票者令牌
func (c *Client) VoterToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voterToken
}

// Contest 获取比赛元数据
func (c *Client) Contest(ctx context.Context, contestID string) (*contest.Contest, error) {
	var out contest.Contest
	if err := c.do(ctx, "获取比赛", http.MethodGet, "/contests/"+url.PathEscape(contestID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contestants 获取比赛所有参赛者票数的完整快照。
// 兼容 {"contestants": [...]} 和裸数组两种响应格式。
func (c *Client) Contestants(ctx context.Context, contestID string) ([]leaderboard.Standing, error) {
	const op = "获取参赛者列表"
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, "/contests/"+url.PathEscape(contestID)+"/contestants", nil, &raw); err != nil {
		return nil, err
	}
	return decodeStandings(op, raw)
}

// VoterLedger 获取当前投票者在比赛中的投票记录
func (c *Client) VoterLedger(ctx context.Context, contestID string) (*contest.VoterLedger, error) {
	var out contest.VoterLedger
	if err := c.do(ctx, "获取投票记录", http.MethodGet, "/contests/"+url.PathEscape(contestID)+"/my-votes", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CastVote 为参赛者投一票
func (c *Client) CastVote(ctx context.Context, contestID, contestantID string) error {
	body := contest.VoteRequest{ContestantID: contestantID, ContestID: contestID}
	return c.do(ctx, "投票", http.MethodPost, "/contest-votes", body, nil)
}

// RemoveVote 撤回对参赛者的投票
func (c *Client) RemoveVote(ctx context.Context, contestantID string) error {
	return c.do(ctx, "撤票", http.MethodDelete, "/contest-votes/"+url.PathEscape(contestantID), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: 无法序列化请求体: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: 无法创建请求: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet {
		req.Header.Set("Cache-Control", "no-store")
	}
	if token := c.VoterToken(); token != "" {
		req.Header.Set(VoterTokenHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if issued := resp.Header.Get(VoterTokenHeader); issued != "" {
		c.mu.Lock()
		if c.voterToken == "" {
			c.voterToken = issued
		}
		c.mu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(data, &errBody)
		return &ServerRejectedError{Op: op, StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("无法解析响应: %w", err)}
	}
	return nil
}

func decodeStandings(op string, raw json.RawMessage) ([]leaderboard.Standing, error) {
	trimmed := bytes.TrimSpace(raw)
	var standings []leaderboard.Standing
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &standings); err != nil {
			return nil, fmt.Errorf("%s: 无法解析参赛者数组: %w", op, err)
		}
		return standings, nil
	}

	var wrapped struct {
		Contestants []leaderboard.Standing `json:"contestants"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: 无法解析参赛者列表: %w", op, err)
	}
	return wrapped.Contestants, nil
}
