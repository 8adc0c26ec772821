package voting

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu          sync.Mutex
	castCalls   []string
	removeCalls []string
	castErr     error
	removeErr   error

	// gate 不为nil时，CastVote会在entered上发出信号并阻塞直到gate被关闭
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeStore) CastVote(ctx context.Context, contestID, contestantID string) error {
	f.mu.Lock()
	f.castCalls = append(f.castCalls, contestantID)
	gate, entered, err := f.gate, f.entered, f.castErr
	f.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	return err
}

func (f *fakeStore) RemoveVote(ctx context.Context, contestantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls = append(f.removeCalls, contestantID)
	return f.removeErr
}

func (f *fakeStore) casts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.castCalls)
}

func TestVoteQuotaExceededWithoutNetwork(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store, "contest-1")
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, c.Vote(ctx, id, 3))
	}
	assert.Equal(t, 3, c.VotesUsed())

	err := c.Vote(ctx, "D", 3)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 3, store.casts(), "名额用完时不应发起网络请求")
	assert.False(t, c.HasVotedFor("D"))
	assert.Equal(t, StateCommitted, c.State(), "前置条件失败不改变状态")
}

func TestVoteRollbackLeavesLedgerUnchanged(t *testing.T) {
	store := &fakeStore{castErr: &NetworkError{Op: "投票", Err: context.DeadlineExceeded}}
	c := NewCoordinator(store, "contest-1")
	require.NoError(t, c.Reset([]string{"B"}))
	before := c.Ledger()

	err := c.Vote(context.Background(), "A", 3)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, before, c.Ledger())
	assert.False(t, c.HasVotedFor("A"))
	assert.Equal(t, StateRolledBack, c.State())
}

func TestVoteTimeoutOverHTTP(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, "voter", &http.Client{Timeout: 50 * time.Millisecond})
	c := NewCoordinator(client, "contest-1")
	usedBefore := c.VotesUsed()

	err := c.Vote(context.Background(), "A", 3)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, IsRetryable(err))
	assert.False(t, c.HasVotedFor("A"))
	assert.Equal(t, usedBefore, c.VotesUsed())
}

func TestConcurrentVoteReachesNetworkOnce(t *testing.T) {
	store := &fakeStore{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := NewCoordinator(store, "contest-1")
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Vote(ctx, "A", 3) }()

	<-store.entered
	assert.Equal(t, StateSubmitting, c.State())

	err := c.Vote(ctx, "A", 3)
	assert.ErrorIs(t, err, ErrSubmissionInProgress)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, c.RemoveVote(ctx, "A"), ErrSubmissionInProgress)
	assert.ErrorIs(t, c.Reset(nil), ErrSubmissionInProgress)

	close(store.gate)
	require.NoError(t, <-firstErr)
	assert.Equal(t, 1, store.casts())
	assert.True(t, c.HasVotedFor("A"))
}

func TestVoteSameContestantTwice(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store, "contest-1")
	ctx := context.Background()

	require.NoError(t, c.Vote(ctx, "A", 3))
	assert.ErrorIs(t, c.Vote(ctx, "A", 3), ErrAlreadyVoted)
	assert.Equal(t, 1, store.casts())
}

func TestRemoveVote(t *testing.T) {
	store := &fakeStore{}
	c := NewCoordinator(store, "contest-1")
	ctx := context.Background()

	assert.ErrorIs(t, c.RemoveVote(ctx, "A"), ErrNotVoted)
	assert.Empty(t, store.removeCalls)

	require.NoError(t, c.Vote(ctx, "A", 1))
	store.removeErr = &ServerRejectedError{Op: "撤票", StatusCode: http.StatusConflict, Message: "比赛已结束"}
	err := c.RemoveVote(ctx, "A")
	var rejected *ServerRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.False(t, IsRetryable(err))
	assert.True(t, c.HasVotedFor("A"), "撤票失败时账本保持不变")

	store.removeErr = nil
	require.NoError(t, c.RemoveVote(ctx, "A"))
	assert.False(t, c.HasVotedFor("A"))
	assert.Zero(t, c.Ledger().VotesUsed)
	assert.NoError(t, c.Vote(ctx, "B", 1), "撤票后名额应当释放")
}

func TestQuotaInvariantUnderRandomSequences(t *testing.T) {
	const maxVotes = 3
	rng := rand.New(rand.NewSource(42))
	ids := []string{"A", "B", "C", "D", "E"}
	failure := errors.New("boom")

	store := &fakeStore{}
	c := NewCoordinator(store, "contest-1")
	ctx := context.Background()

	for i := 0; i < 500; i++ {
		store.mu.Lock()
		store.castErr, store.removeErr = nil, nil
		if rng.Intn(4) == 0 {
			store.castErr, store.removeErr = failure, failure
		}
		store.mu.Unlock()

		id := ids[rng.Intn(len(ids))]
		before := c.Ledger()
		var err error
		if rng.Intn(2) == 0 {
			err = c.Vote(ctx, id, maxVotes)
		} else {
			err = c.RemoveVote(ctx, id)
		}

		state := c.Ledger()
		require.LessOrEqual(t, state.VotesUsed, maxVotes)
		require.Equal(t, len(state.ContestantIDs), state.VotesUsed)
		if err != nil {
			require.Equal(t, before, state, "失败的操作不应改变账本")
		}
	}
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrQuotaExceeded))
	assert.False(t, IsRetryable(ErrNotVoted))
	assert.True(t, IsRetryable(&ServerRejectedError{StatusCode: http.StatusServiceUnavailable}))
	assert.True(t, IsRetryable(&ServerRejectedError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, IsRetryable(&ServerRejectedError{StatusCode: http.StatusConflict}))
}
