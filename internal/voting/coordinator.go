package voting

import (
	"context"
	"sync"

	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/sirupsen/logrus"
)

// State 是一次投票或撤票提交的状态
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	}
	return "unknown"
}

// Coordinator 负责单个 (比赛, 投票者) 作用域内的投票与撤票。
// 它独占持有投票账本，是"名额是否已花掉"的唯一判断来源。
// 同一时刻只允许一个提交在途，第二个提交会被直接拒绝，不会排队。
type Coordinator struct {
	contestID string
	store     VoteStore

	mu     sync.Mutex
	ledger *Ledger
	state  State
}

// NewCoordinator 创建一个空账本的协调器
func NewCoordinator(store VoteStore, contestID string) *Coordinator {
	return &Coordinator{
		contestID: contestID,
		store:     store,
		ledger:    NewLedger(),
	}
}

// ContestID 返回协调器所属的比赛
func (c *Coordinator) ContestID() string {
	return c.contestID
}

// Vote 为参赛者投一票。
// 名额不足、已投过或已有提交在途时立即失败，不发起网络请求；
// 网络或服务端失败时账本保持调用前的状态。
func (c *Coordinator) Vote(ctx context.Context, contestantID string, maxVotes int) error {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return ErrSubmissionInProgress
	}
	if !c.ledger.CanVote(maxVotes) {
		c.mu.Unlock()
		return ErrQuotaExceeded
	}
	if c.ledger.HasVotedFor(contestantID) {
		c.mu.Unlock()
		return ErrAlreadyVoted
	}
	sub := c.beginLocked("vote", contestantID)
	c.mu.Unlock()

	defer sub.RollbackUnlessCommitted()

	if err := c.store.CastVote(ctx, c.contestID, contestantID); err != nil {
		sub.err = err
		return err
	}

	sub.Commit(func(l *Ledger) { l.RecordVote(contestantID) })
	return nil
}

// RemoveVote 撤回对参赛者的投票，前提是账本中记录了这次投票
func (c *Coordinator) RemoveVote(ctx context.Context, contestantID string) error {
	c.mu.Lock()
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return ErrSubmissionInProgress
	}
	if !c.ledger.HasVotedFor(contestantID) {
		c.mu.Unlock()
		return ErrNotVoted
	}
	sub := c.beginLocked("unvote", contestantID)
	c.mu.Unlock()

	defer sub.RollbackUnlessCommitted()

	if err := c.store.RemoveVote(ctx, contestantID); err != nil {
		sub.err = err
		return err
	}

	sub.Commit(func(l *Ledger) { l.RecordUnvote(contestantID) })
	return nil
}

// Reset 用服务端的投票记录重建账本。提交在途时拒绝重建。
func (c *Coordinator) Reset(contestantIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting {
		return ErrSubmissionInProgress
	}
	c.ledger.Reset(contestantIDs)
	c.state = StateIdle
	return nil
}

// State 返回最近一次提交的状态
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ledger 返回账本快照
func (c *Coordinator) Ledger() LedgerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.State()
}

// HasVotedFor 判断是否已为参赛者投票
func (c *Coordinator) HasVotedFor(contestantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.HasVotedFor(contestantID)
}

// VotesUsed 返回已用票数
func (c *Coordinator) VotesUsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.VotesUsed()
}

// submission 是一次在途提交的事务句柄。
// 它在开始时备份账本，调用方必须 defer RollbackUnlessCommitted()。
type submission struct {
	c            *Coordinator
	action       string
	contestantID string
	backup       map[string]struct{}
	committed    bool
	err          error
}

func (c *Coordinator) beginLocked(action, contestantID string) *submission {
	c.state = StateSubmitting
	return &submission{
		c:            c,
		action:       action,
		contestantID: contestantID,
		backup:       c.ledger.clone(),
	}
}

// Commit 在远端确认成功后把变更应用到账本，并结束提交
func (s *submission) Commit(apply func(*Ledger)) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	apply(s.c.ledger)
	s.c.state = StateCommitted
	s.committed = true
}

// RollbackUnlessCommitted 如果提交没有成功，用备份恢复账本并结束提交
func (s *submission) RollbackUnlessCommitted() {
	if s.committed {
		return
	}
	s.c.mu.Lock()
	s.c.ledger.restore(s.backup)
	s.c.state = StateRolledBack
	s.c.mu.Unlock()

	logging.Log.WithFields(logrus.Fields{
		"contest":    s.c.contestID,
		"contestant": s.contestantID,
		"action":     s.action,
	}).WithError(s.err).Warn("提交失败，投票账本已回滚")
}
