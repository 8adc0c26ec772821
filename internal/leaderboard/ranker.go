package leaderboard

import (
	"math"
	"sort"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
)

// Standing 是排名的输入：某个参赛者在某一时刻的票数
type Standing struct {
	ContestantID   string `json:"id"`
	Name           string `json:"name,omitempty"`
	VoteCount      int64  `json:"votesCount"`
	IsWinner       bool   `json:"isWinner,omitempty"`
	WinnerPosition *int   `json:"winnerPosition,omitempty"`
}

// Entry 是排名的输出，每次票数变化都会重新计算，从不持久化
type Entry struct {
	ContestantID       string `json:"id"`
	Name               string `json:"name,omitempty"`
	VoteCount          int64  `json:"votesCount"`
	Rank               int    `json:"rank"`
	PercentageOfLeader int    `json:"percentageOfLeader"`
	IsWinner           bool   `json:"isWinner"`
	WinnerPosition     *int   `json:"winnerPosition,omitempty"`
}

// Rank 把一组票数快照转换为排好序的排行榜。
//
// 排序规则：票数降序；票数相同时按参赛者ID升序。平票不会共享名次，
// 而是获得连续且互不相同的名次。服务端签发的ID是UUID v7，
// 字典序即创建顺序，所以同票时先报名的参赛者排在前面。
//
// 负票数会被归一化为0并记录警告。只有比赛已结束时才透传上游的获胜者标注，
// 排名本身从不推断获胜者。函数是纯函数，相同输入总是得到相同输出。
func Rank(standings []Standing, status contest.Status) []Entry {
	entries := make([]Entry, len(standings))
	for i, s := range standings {
		count := s.VoteCount
		if count < 0 {
			logging.Log.WithField("contestant", s.ContestantID).Warnf("票数为负 (%d)，已按0处理", count)
			count = 0
		}
		entries[i] = Entry{
			ContestantID: s.ContestantID,
			Name:         s.Name,
			VoteCount:    count,
		}
		if status == contest.StatusCompleted {
			entries[i].IsWinner = s.IsWinner
			entries[i].WinnerPosition = s.WinnerPosition
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].VoteCount != entries[j].VoteCount {
			return entries[i].VoteCount > entries[j].VoteCount
		}
		return entries[i].ContestantID < entries[j].ContestantID
	})

	var leader int64
	if len(entries) > 0 {
		leader = entries[0].VoteCount
	}
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].PercentageOfLeader = percentageOf(entries[i].VoteCount, leader)
	}
	return entries
}

// percentageOf 计算相对领先者的百分比，领先者为0票时分母按1处理
func percentageOf(count, leader int64) int {
	pct := math.Round(float64(count) / float64(max(leader, 1)) * 100)
	return int(min(max(pct, 0), 100))
}
