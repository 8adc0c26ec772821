package contest

import (
	"fmt"
	"strings"
	"time"
)

// Status 定义了比赛的生命周期状态
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusActive    Status = "ACTIVE"
	StatusVoting    Status = "VOTING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ParseStatus 解析状态字符串，大小写不敏感
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case StatusDraft, StatusPublished, StatusActive, StatusVoting, StatusCompleted, StatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("无效的比赛状态: %q", s)
}

// AcceptsVotes 表示该状态下是否开放投票
func (s Status) AcceptsVotes() bool {
	return s == StatusActive || s == StatusVoting
}

// IsFinal 表示比赛已经结束，不再允许状态变化
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Contest 定义了比赛在数据库中的数据结构
type Contest struct {
	ID              string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title           string    `json:"title"`
	Status          Status    `gorm:"type:varchar(16);index;not null" json:"status"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	MaxVotesPerUser int       `gorm:"not null;default:1" json:"maxVotesPerUser"`
	IsPublicResults bool      `json:"isPublicResults"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AcceptsVotes 只有在状态开放且当前时间位于 [StartTime, EndTime] 内时才接受投票
func (c *Contest) AcceptsVotes(now time.Time) bool {
	if !c.Status.AcceptsVotes() {
		return false
	}
	return !now.Before(c.StartTime) && !now.After(c.EndTime)
}

// Contestant 定义了参赛者的数据结构
type Contestant struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ContestID string `gorm:"type:varchar(36);index;not null" json:"contestId"`
	Name      string `json:"name"`

	// VotesCount 是反范式化的票数计数器，由投票事务维护
	VotesCount int64 `gorm:"not null;default:0" json:"votesCount"`

	// 以下字段只在比赛结束后由主办方标注
	IsWinner       bool `json:"isWinner"`
	WinnerPosition *int `json:"winnerPosition,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Vote 记录一次投票，每个 (比赛, 参赛者, 投票者) 最多一条
type Vote struct {
	ID           uint      `gorm:"primaryKey"`
	ContestID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_vote_unique,priority:1;index:idx_vote_voter,priority:1"`
	ContestantID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_vote_unique,priority:2"`
	VoterID      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_vote_unique,priority:3;index:idx_vote_voter,priority:2"`
	CreatedAt    time.Time `gorm:"index"`
}

// TableName 避免与其他模块的votes表冲突
func (Vote) TableName() string {
	return "contest_votes"
}

// VoterLedger 是某个投票者在某个比赛中的投票记录，客户端用它在重新加载后重建本地账本
type VoterLedger struct {
	ContestID       string   `json:"contestId"`
	ContestantIDs   []string `json:"contestantIds"`
	VotesUsed       int      `json:"votesUsed"`
	MaxVotesPerUser int      `json:"maxVotesPerUser"`
}

// VoteRequest 是 POST /contest-votes 的请求体
type VoteRequest struct {
	ContestantID string `json:"contestantId" binding:"required"`
	ContestID    string `json:"contestId" binding:"required"`
}
