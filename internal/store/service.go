package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Snapshot 是比赛排行榜在某一时刻的完整快照
type Snapshot struct {
	ContestID   string              `json:"contestId"`
	Status      contest.Status      `json:"status"`
	Contestants []leaderboard.Entry `json:"contestants"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

// CreateContestInput 是创建比赛的参数
type CreateContestInput struct {
	Title           string         `json:"title" binding:"required"`
	Status          contest.Status `json:"status"`
	StartTime       time.Time      `json:"startTime" binding:"required"`
	EndTime         time.Time      `json:"endTime" binding:"required"`
	MaxVotesPerUser int            `json:"maxVotesPerUser"`
	IsPublicResults bool           `json:"isPublicResults"`
}

// Service 是投票服务的业务层
type Service struct {
	repo    *Repository
	cache   *CounterCache
	metrics *metrics.MetricService
	group   singleflight.Group
	now     func() time.Time

	// cacheMu 让缓存重建与投票计数更新互斥：投票持有读锁直到缓存更新完成，
	// 重建持有写锁覆盖"读数据库、写缓存"的全过程
	cacheMu sync.RWMutex
}

// NewService 创建投票服务
func NewService(repo *Repository, cache *CounterCache, ms *metrics.MetricService) *Service {
	return &Service{repo: repo, cache: cache, metrics: ms, now: time.Now}
}

// CastVote 为投票者投一票
func (s *Service) CastVote(ctx context.Context, voterID, contestID, contestantID string) error {
	start := time.Now()
	defer func() { s.metrics.VoteDuration.Observe(time.Since(start).Seconds()) }()

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if err := s.repo.CastVote(ctx, voterID, contestID, contestantID, s.now()); err != nil {
		s.metrics.VotesRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	s.cache.Incr(ctx, contestID, contestantID, 1)
	s.metrics.VotesCast.Inc()

	logging.Log.WithFields(logrus.Fields{
		"contest":    contestID,
		"contestant": contestantID,
		"voter":      voterID,
	}).Debug("投票成功")
	return nil
}

// RemoveVote 撤回投票者对参赛者的投票
func (s *Service) RemoveVote(ctx context.Context, voterID, contestantID string) error {
	start := time.Now()
	defer func() { s.metrics.VoteDuration.Observe(time.Since(start).Seconds()) }()

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	contestID, err := s.repo.RemoveVote(ctx, voterID, contestantID, s.now())
	if err != nil {
		s.metrics.VotesRejected.WithLabelValues(rejectReason(err)).Inc()
		return err
	}
	s.cache.Incr(ctx, contestID, contestantID, -1)
	s.metrics.VotesRemoved.Inc()

	logging.Log.WithFields(logrus.Fields{
		"contest":    contestID,
		"contestant": contestantID,
		"voter":      voterID,
	}).Debug("撤票成功")
	return nil
}

// Contest 返回比赛元数据
func (s *Service) Contest(ctx context.Context, contestID string) (*contest.Contest, error) {
	return s.repo.FindContest(ctx, contestID)
}

// VoterLedger 返回投票者在比赛中的投票记录
func (s *Service) VoterLedger(ctx context.Context, contestID, voterID string) (*contest.VoterLedger, error) {
	c, err := s.repo.FindContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.VotedContestantIDs(ctx, contestID, voterID)
	if err != nil {
		return nil, err
	}
	return &contest.VoterLedger{
		ContestID:       contestID,
		ContestantIDs:   ids,
		VotesUsed:       len(ids),
		MaxVotesPerUser: c.MaxVotesPerUser,
	}, nil
}

// Snapshot 返回比赛排行榜的完整快照。
// 并发的相同请求会被合并为一次读取。
func (s *Service) Snapshot(ctx context.Context, contestID string) (*Snapshot, error) {
	s.metrics.SnapshotRequests.Inc()
	v, err, _ := s.group.Do(contestID, func() (any, error) {
		return s.loadSnapshot(ctx, contestID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (s *Service) loadSnapshot(ctx context.Context, contestID string) (*Snapshot, error) {
	c, err := s.repo.FindContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	var contestants []contest.Contestant
	counts, hit := s.cache.Counts(ctx, contestID)
	if hit {
		if contestants, err = s.repo.ListContestants(ctx, contestID); err != nil {
			return nil, err
		}
		s.metrics.SnapshotSource.WithLabelValues("cache").Inc()
	} else {
		if contestants, err = s.rebuild(ctx, contestID); err != nil {
			return nil, err
		}
		s.metrics.SnapshotSource.WithLabelValues("database").Inc()
	}

	standings := make([]leaderboard.Standing, len(contestants))
	for i, cs := range contestants {
		count := cs.VotesCount
		if hit {
			// 缓存中没有的参赛者（缓存加载后新加入）沿用数据库计数
			if n, ok := counts[cs.ID]; ok {
				count = n
			}
		}
		standings[i] = leaderboard.Standing{
			ContestantID:   cs.ID,
			Name:           cs.Name,
			VoteCount:      count,
			IsWinner:       cs.IsWinner,
			WinnerPosition: cs.WinnerPosition,
		}
	}

	return &Snapshot{
		ContestID:   contestID,
		Status:      c.Status,
		Contestants: leaderboard.Rank(standings, c.Status),
		GeneratedAt: s.now(),
	}, nil
}

// rebuild 从数据库读取参赛者并用其票数重建缓存
func (s *Service) rebuild(ctx context.Context, contestID string) ([]contest.Contestant, error) {
	if !s.cache.available() {
		return s.repo.ListContestants(ctx, contestID)
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	contestants, err := s.repo.ListContestants(ctx, contestID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(contestants))
	for _, cs := range contestants {
		counts[cs.ID] = cs.VotesCount
	}
	s.cache.Warm(ctx, contestID, counts)
	return contestants, nil
}

// Warmup 为所有进行中的比赛预热票数缓存
func (s *Service) Warmup(ctx context.Context) error {
	ids, err := s.repo.ListContestsAcceptingVotes(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.rebuild(ctx, id); err != nil {
			return fmt.Errorf("预热比赛 %s 的缓存失败: %w", id, err)
		}
	}
	logging.Log.Infof("已为 %d 个进行中的比赛预热票数缓存", len(ids))
	return nil
}

// ResetCache 丢弃所有缓存的票数
func (s *Service) ResetCache(ctx context.Context) error {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Flush(ctx)
}

// CreateContest 创建比赛，未指定状态时为草稿
func (s *Service) CreateContest(ctx context.Context, in CreateContestInput) (*contest.Contest, error) {
	status := contest.StatusDraft
	if in.Status != "" {
		parsed, err := contest.ParseStatus(string(in.Status))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		status = parsed
	}
	if in.MaxVotesPerUser == 0 {
		in.MaxVotesPerUser = 1
	}
	if in.MaxVotesPerUser < 1 {
		return nil, fmt.Errorf("%w: maxVotesPerUser 必须至少为1", ErrInvalidInput)
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, fmt.Errorf("%w: endTime 必须晚于 startTime", ErrInvalidInput)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title 不能为空", ErrInvalidInput)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("无法生成比赛ID: %w", err)
	}
	c := &contest.Contest{
		ID:              id.String(),
		Title:           title,
		Status:          status,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		MaxVotesPerUser: in.MaxVotesPerUser,
		IsPublicResults: in.IsPublicResults,
	}
	if err := s.repo.CreateContest(ctx, c); err != nil {
		return nil, err
	}
	logging.Log.WithFields(logrus.Fields{"contest": c.ID, "status": c.Status}).Info("比赛已创建")
	return c, nil
}

// AddContestant 为比赛添加参赛者
func (s *Service) AddContestant(ctx context.Context, contestID, name string) (*contest.Contestant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name 不能为空", ErrInvalidInput)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("无法生成参赛者ID: %w", err)
	}
	cs := &contest.Contestant{ID: id.String(), ContestID: contestID, Name: name}
	if err := s.repo.AddContestant(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// SetStatus 修改比赛状态
func (s *Service) SetStatus(ctx context.Context, contestID, status string) (*contest.Contest, error) {
	parsed, err := contest.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	c, err := s.repo.SetStatus(ctx, contestID, parsed)
	if err != nil {
		return nil, err
	}
	logging.Log.WithFields(logrus.Fields{"contest": contestID, "status": parsed}).Info("比赛状态已更新")
	return c, nil
}

// CloseContest 结束比赛并标注前winners名为获胜者
func (s *Service) CloseContest(ctx context.Context, contestID string, winners int) (*contest.Contest, error) {
	if winners == 0 {
		winners = 1
	}
	if winners < 0 {
		return nil, fmt.Errorf("%w: winners 不能为负数", ErrInvalidInput)
	}
	c, err := s.repo.CloseContest(ctx, contestID, winners)
	if err != nil {
		return nil, err
	}
	logging.Log.WithFields(logrus.Fields{"contest": contestID, "winners": winners}).Info("比赛已结束")
	return c, nil
}
