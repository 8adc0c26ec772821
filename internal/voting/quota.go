package voting

import (
	"maps"
	"slices"
)

// Ledger 是当前投票者在某个比赛中的投票账本：已投票的参赛者集合。
// 已用票数始终等于集合大小。Ledger 本身不加锁，由 Coordinator 独占持有并串行访问。
type Ledger struct {
	voted map[string]struct{}
}

// LedgerState 是账本的不可变视图，参赛者ID按字典序排列
type LedgerState struct {
	ContestantIDs []string `json:"contestantIds"`
	VotesUsed     int      `json:"votesUsed"`
}

// NewLedger 创建一个空账本
func NewLedger() *Ledger {
	return &Ledger{voted: make(map[string]struct{})}
}

// CanVote 当且仅当已用票数小于上限时返回true
func (l *Ledger) CanVote(maxVotes int) bool {
	return l.VotesUsed() < maxVotes
}

// HasVotedFor 判断是否已为该参赛者投票
func (l *Ledger) HasVotedFor(contestantID string) bool {
	_, ok := l.voted[contestantID]
	return ok
}

// RecordVote 记录一次投票，重复记录同一参赛者不会产生效果
func (l *Ledger) RecordVote(contestantID string) {
	l.voted[contestantID] = struct{}{}
}

// RecordUnvote 撤销一次投票，参赛者不在集合中时静默忽略
func (l *Ledger) RecordUnvote(contestantID string) {
	delete(l.voted, contestantID)
}

// VotesUsed 返回已用票数
func (l *Ledger) VotesUsed() int {
	return len(l.voted)
}

// Reset 用服务端返回的已投票列表重建账本
func (l *Ledger) Reset(contestantIDs []string) {
	clear(l.voted)
	for _, id := range contestantIDs {
		l.voted[id] = struct{}{}
	}
}

// State 返回账本的快照
func (l *Ledger) State() LedgerState {
	ids := slices.Sorted(maps.Keys(l.voted))
	if ids == nil {
		ids = []string{}
	}
	return LedgerState{ContestantIDs: ids, VotesUsed: len(ids)}
}

func (l *Ledger) clone() map[string]struct{} {
	return maps.Clone(l.voted)
}

func (l *Ledger) restore(backup map[string]struct{}) {
	l.voted = backup
}
