package leaderboard

import (
	"sync"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
)

// Board 是客户端持有的排行榜状态。
// 服务端快照是其他用户投票的权威来源；本用户已提交成功但尚未出现在快照中的投票，
// 以乐观增量的形式叠加在快照之上。新快照到达时乐观增量全部丢弃（以最后一次拉取为准）。
type Board struct {
	mu        sync.RWMutex
	status    contest.Status
	snapshot  []Standing
	pending   map[string]int64
	entries   []Entry
	updatedAt time.Time
	version   uint64
	// applied 统计已应用的快照数
	applied uint64
}

// NewBoard 创建一个空的排行榜
func NewBoard(status contest.Status) *Board {
	return &Board{
		status:  status,
		pending: make(map[string]int64),
		entries: []Entry{},
	}
}

// ApplySnapshot 用服务端快照替换当前状态，丢弃所有乐观增量
func (b *Board) ApplySnapshot(standings []Standing, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshot = append(b.snapshot[:0:0], standings...)
	clear(b.pending)
	b.updatedAt = at
	b.applied++
	b.recomputeLocked()
}

// SetStatus 更新比赛状态，状态决定是否展示获胜者标注
func (b *Board) SetStatus(status contest.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == status {
		return
	}
	b.status = status
	b.recomputeLocked()
}

// Bump 为某个参赛者叠加一个乐观增量（投票+1，撤票-1）。
// 快照中不存在的参赛者会被忽略。
func (b *Board) Bump(contestantID string, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bumpLocked(contestantID, delta)
}

// Snapshots 返回已应用的快照数，配合BumpUnlessRefreshed使用
func (b *Board) Snapshots() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.applied
}

// BumpUnlessRefreshed 仅在since之后没有新快照到达时叠加增量。
// 提交期间到达的快照可能已经包含这次投票，此时不再叠加，返回false。
func (b *Board) BumpUnlessRefreshed(contestantID string, delta int64, since uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.applied != since {
		return false
	}
	b.bumpLocked(contestantID, delta)
	return true
}

func (b *Board) bumpLocked(contestantID string, delta int64) {
	for _, s := range b.snapshot {
		if s.ContestantID == contestantID {
			b.pending[contestantID] += delta
			b.recomputeLocked()
			return
		}
	}
}

// Pending 返回某个参赛者当前的乐观增量
func (b *Board) Pending(contestantID string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pending[contestantID]
}

// Entries 返回当前排行榜的副本
func (b *Board) Entries() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Entry 返回单个参赛者的排名
func (b *Board) Entry(contestantID string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, e := range b.entries {
		if e.ContestantID == contestantID {
			return e, true
		}
	}
	return Entry{}, false
}

// UpdatedAt 返回最后一次应用快照的时间
func (b *Board) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Version 每次排行榜重新计算都会递增，可用于判断是否需要重绘
func (b *Board) Version() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version
}

func (b *Board) recomputeLocked() {
	merged := make([]Standing, len(b.snapshot))
	for i, s := range b.snapshot {
		if delta := b.pending[s.ContestantID]; delta != 0 {
			s.VoteCount = max(s.VoteCount+delta, 0)
		}
		merged[i] = s
	}
	b.entries = Rank(merged, b.status)
	b.version++
}
