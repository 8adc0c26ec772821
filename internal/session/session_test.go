package session

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
	"github.com/SlpAus/contest-vote-engine/internal/voting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	mu     sync.Mutex
	c      contest.Contest
	counts map[string]int64
	voted  map[string]bool
	// loseWrites 为true时投票请求返回成功但不计入票数
	loseWrites bool
	noLedger   bool
	// afterWrite 在投票写入之后、请求返回之前调用
	afterWrite func()
}

func newMemoryBackend(maxVotes int, counts map[string]int64) *memoryBackend {
	return &memoryBackend{
		c: contest.Contest{
			ID:              "c1",
			Status:          contest.StatusVoting,
			MaxVotesPerUser: maxVotes,
		},
		counts: counts,
		voted:  map[string]bool{},
	}
}

func (m *memoryBackend) Contest(ctx context.Context, id string) (*contest.Contest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.c
	return &c, nil
}

func (m *memoryBackend) VoterLedger(ctx context.Context, id string) (*contest.VoterLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.noLedger {
		return nil, &voting.ServerRejectedError{Op: "获取投票记录", StatusCode: http.StatusNotFound}
	}
	var ids []string
	for id := range m.voted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &contest.VoterLedger{ContestID: id, ContestantIDs: ids, VotesUsed: len(ids), MaxVotesPerUser: m.c.MaxVotesPerUser}, nil
}

func (m *memoryBackend) Contestants(ctx context.Context, id string) ([]leaderboard.Standing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []leaderboard.Standing
	for cid, n := range m.counts {
		out = append(out, leaderboard.Standing{ContestantID: cid, VoteCount: n})
	}
	return out, nil
}

func (m *memoryBackend) CastVote(ctx context.Context, contestID, contestantID string) error {
	m.mu.Lock()
	if !m.loseWrites {
		m.counts[contestantID]++
		m.voted[contestantID] = true
	}
	hook := m.afterWrite
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (m *memoryBackend) RemoveVote(ctx context.Context, contestantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voted[contestantID] {
		m.counts[contestantID]--
		delete(m.voted, contestantID)
	}
	return nil
}

func entryFor(t *testing.T, v View, id string) leaderboard.Entry {
	t.Helper()
	for _, e := range v.Entries {
		if e.ContestantID == id {
			return e
		}
	}
	t.Fatalf("排行榜中没有参赛者 %s", id)
	return leaderboard.Entry{}
}

func TestSessionRequiresLoad(t *testing.T) {
	s := New(newMemoryBackend(1, map[string]int64{"A": 0}), "c1", Options{})
	assert.ErrorIs(t, s.Vote(context.Background(), "A"), ErrNotLoaded)
	assert.ErrorIs(t, s.RemoveVote(context.Background(), "A"), ErrNotLoaded)
}

func TestSessionLoadRebuildsLedger(t *testing.T) {
	backend := newMemoryBackend(2, map[string]int64{"A": 1, "B": 0})
	backend.voted["A"] = true

	s := New(backend, "c1", Options{})
	require.NoError(t, s.Load(context.Background()))

	assert.True(t, s.HasVotedFor("A"))
	q := s.Quota()
	assert.Equal(t, 1, q.Used)
	assert.Equal(t, 2, q.Max)
	assert.Equal(t, 1, q.Remaining)
}

func TestSessionLoadWithoutLedgerStartsEmpty(t *testing.T) {
	backend := newMemoryBackend(2, map[string]int64{"A": 1})
	backend.noLedger = true

	s := New(backend, "c1", Options{})
	require.NoError(t, s.Load(context.Background()))
	assert.Zero(t, s.Quota().Used)
}

func TestSessionOptimisticBumpDiscardedBySnapshot(t *testing.T) {
	backend := newMemoryBackend(3, map[string]int64{"A": 10, "B": 12})
	backend.loseWrites = true
	ctx := context.Background()

	s := New(backend, "c1", Options{})
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Refresh(ctx))

	require.NoError(t, s.Vote(ctx, "A"))
	assert.Equal(t, int64(11), entryFor(t, s.Leaderboard(), "A").VoteCount, "提交成功后立即展示乐观增量")
	assert.True(t, s.HasVotedFor("A"))

	// 服务端快照中A的票数没有变化，以快照为准
	require.NoError(t, s.Refresh(ctx))
	a := entryFor(t, s.Leaderboard(), "A")
	assert.Equal(t, int64(10), a.VoteCount)
	assert.Equal(t, 2, a.Rank)
	assert.True(t, s.HasVotedFor("A"), "排行榜不决定名额状态")
}

func TestSessionSnapshotDuringSubmissionNotBumpedTwice(t *testing.T) {
	backend := newMemoryBackend(3, map[string]int64{"A": 10, "B": 12})
	ctx := context.Background()

	s := New(backend, "c1", Options{})
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Refresh(ctx))

	// 请求在途时到达的快照已经包含这次投票
	backend.afterWrite = func() { require.NoError(t, s.Refresh(ctx)) }
	require.NoError(t, s.Vote(ctx, "A"))

	a := entryFor(t, s.Leaderboard(), "A")
	assert.Equal(t, int64(11), a.VoteCount, "快照已包含本次投票时不再叠加")
	assert.True(t, s.HasVotedFor("A"))
}

func TestSessionVoteAndUnvoteWithPoller(t *testing.T) {
	backend := newMemoryBackend(1, map[string]int64{"A": 0, "B": 0})
	ctx := context.Background()

	s := New(backend, "c1", Options{Interval: 10 * time.Millisecond})
	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.Eventually(t, func() bool { return len(s.Leaderboard().Entries) == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Vote(ctx, "B"))
	assert.ErrorIs(t, s.Vote(ctx, "A"), voting.ErrQuotaExceeded)

	require.Eventually(t, func() bool {
		v := s.Leaderboard()
		return v.Entries[0].ContestantID == "B" && v.Entries[0].VoteCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.RemoveVote(ctx, "B"))
	assert.Equal(t, 1, s.Quota().Remaining)

	require.Eventually(t, func() bool {
		return entryFor(t, s.Leaderboard(), "B").VoteCount == 0
	}, 2*time.Second, 5*time.Millisecond)

	v := s.Leaderboard()
	assert.False(t, v.Stale)
	assert.NoError(t, v.Err)
	assert.False(t, v.LastUpdateAt.IsZero())
}
