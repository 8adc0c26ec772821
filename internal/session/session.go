package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
	"github.com/SlpAus/contest-vote-engine/internal/platform/config"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/internal/poller"
	"github.com/SlpAus/contest-vote-engine/internal/voting"
	"github.com/sirupsen/logrus"
)

// ErrNotLoaded 表示会话还没有加载比赛信息
var ErrNotLoaded = errors.New("会话尚未加载比赛信息")

// Backend 是会话依赖的远端投票服务，voting.Client 实现了它
type Backend interface {
	voting.VoteStore
	poller.Source
	Contest(ctx context.Context, contestID string) (*contest.Contest, error)
	VoterLedger(ctx context.Context, contestID string) (*contest.VoterLedger, error)
}

// Options 定义了会话的同步参数
type Options struct {
	Interval   time.Duration
	Timeout    time.Duration
	MaxBackoff time.Duration
}

// OptionsFromConfig 从同步配置构建会话参数
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{Interval: cfg.Interval, Timeout: cfg.Timeout, MaxBackoff: cfg.MaxBackoff}
}

// View 是排行榜及其新鲜度
type View struct {
	Entries      []leaderboard.Entry
	Version      uint64
	LastUpdateAt time.Time
	Stale        bool
	Err          error
}

// Quota 是当前投票者的名额使用情况
type Quota struct {
	Used      int
	Max       int
	Remaining int
	VotedFor  []string
}

// Session 持有一个 (比赛, 投票者) 作用域：投票协调器、排行榜和轮询器。
// 轮询快照以最后一次拉取为准覆盖排行榜；本用户提交成功的投票在下一次快照前以乐观增量展示。
type Session struct {
	backend   Backend
	contestID string
	opts      Options

	coordinator *voting.Coordinator
	board       *leaderboard.Board
	poller      *poller.Poller

	mu      sync.RWMutex
	contest *contest.Contest
}

// New 创建一个会话，需要先调用Load
func New(backend Backend, contestID string, opts Options) *Session {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	s := &Session{
		backend:     backend,
		contestID:   contestID,
		opts:        opts,
		coordinator: voting.NewCoordinator(backend, contestID),
		board:       leaderboard.NewBoard(contest.StatusDraft),
		poller:      poller.New(backend, poller.Options{Timeout: opts.Timeout, MaxBackoff: opts.MaxBackoff}),
	}
	s.poller.OnSnapshot(func(snap poller.Snapshot) {
		s.board.ApplySnapshot(snap.Standings, snap.FetchedAt)
	})
	return s
}

// Load 获取比赛信息，并用服务端的投票记录重建本地账本。
// 服务端没有该投票者的记录时（404）从空账本开始。
func (s *Session) Load(ctx context.Context) error {
	c, err := s.backend.Contest(ctx, s.contestID)
	if err != nil {
		return fmt.Errorf("加载比赛 %s 失败: %w", s.contestID, err)
	}

	var votedFor []string
	ledger, err := s.backend.VoterLedger(ctx, s.contestID)
	switch {
	case err == nil:
		votedFor = ledger.ContestantIDs
	case voting.IsNotFound(err):
		logging.Log.WithField("contest", s.contestID).Debug("服务端没有投票记录，从空账本开始")
	default:
		return fmt.Errorf("加载投票记录失败: %w", err)
	}

	if err := s.coordinator.Reset(votedFor); err != nil {
		return err
	}

	s.mu.Lock()
	s.contest = c
	s.mu.Unlock()
	s.board.SetStatus(c.Status)

	logging.Log.WithFields(logrus.Fields{
		"contest":   s.contestID,
		"status":    c.Status,
		"votesUsed": len(votedFor),
		"maxVotes":  c.MaxVotesPerUser,
	}).Info("会话已加载")
	return nil
}

// Contest 返回已加载的比赛信息
func (s *Session) Contest() (*contest.Contest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.contest == nil {
		return nil, false
	}
	c := *s.contest
	return &c, true
}

// Start 开始后台同步排行榜
func (s *Session) Start(ctx context.Context) error {
	return s.poller.Start(ctx, s.contestID, s.opts.Interval)
}

// Stop 停止后台同步
func (s *Session) Stop() {
	s.poller.Stop()
}

// Reconnect 重启后台同步
func (s *Session) Reconnect() error {
	return s.poller.Reconnect()
}

// Subscribe 注册票数变化回调
func (s *Session) Subscribe(fn func(poller.VoteUpdate)) {
	s.poller.Subscribe(fn)
}

// Refresh 立即拉取一次快照并覆盖排行榜
func (s *Session) Refresh(ctx context.Context) error {
	standings, err := s.backend.Contestants(ctx, s.contestID)
	if err != nil {
		return fmt.Errorf("刷新排行榜失败: %w", err)
	}
	s.board.ApplySnapshot(standings, time.Now())
	return nil
}

// Vote 为参赛者投票，成功后在排行榜上叠加+1直到下一次快照。
// 提交期间已有新快照到达时不再叠加。
func (s *Session) Vote(ctx context.Context, contestantID string) error {
	c, ok := s.Contest()
	if !ok {
		return ErrNotLoaded
	}
	since := s.board.Snapshots()
	if err := s.coordinator.Vote(ctx, contestantID, c.MaxVotesPerUser); err != nil {
		return err
	}
	s.board.BumpUnlessRefreshed(contestantID, 1, since)
	return nil
}

// RemoveVote 撤回投票，成功后在排行榜上叠加-1直到下一次快照
func (s *Session) RemoveVote(ctx context.Context, contestantID string) error {
	if _, ok := s.Contest(); !ok {
		return ErrNotLoaded
	}
	since := s.board.Snapshots()
	if err := s.coordinator.RemoveVote(ctx, contestantID); err != nil {
		return err
	}
	s.board.BumpUnlessRefreshed(contestantID, -1, since)
	return nil
}

// HasVotedFor 判断当前投票者是否已为参赛者投票
func (s *Session) HasVotedFor(contestantID string) bool {
	return s.coordinator.HasVotedFor(contestantID)
}

// Quota 返回名额使用情况
func (s *Session) Quota() Quota {
	state := s.coordinator.Ledger()
	q := Quota{Used: state.VotesUsed, VotedFor: state.ContestantIDs}
	if c, ok := s.Contest(); ok {
		q.Max = c.MaxVotesPerUser
		q.Remaining = max(q.Max-q.Used, 0)
	}
	return q
}

// Leaderboard 返回当前排行榜和同步状态
func (s *Session) Leaderboard() View {
	status := s.poller.Status()
	updatedAt := s.board.UpdatedAt()
	if status.LastUpdateAt.After(updatedAt) {
		updatedAt = status.LastUpdateAt
	}
	return View{
		Entries:      s.board.Entries(),
		Version:      s.board.Version(),
		LastUpdateAt: updatedAt,
		Stale:        status.Stale,
		Err:          status.Err,
	}
}
