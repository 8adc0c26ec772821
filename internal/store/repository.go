package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
	"github.com/SlpAus/contest-vote-engine/internal/platform/database"
	"gorm.io/gorm"
)

// Repository 封装了比赛、参赛者和投票记录的数据库访问。
// 数据库是票数的权威来源，Redis只是它的缓存。
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建数据库仓库
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate 创建或更新所有表结构
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(&contest.Contest{}, &contest.Contestant{}, &contest.Vote{}); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	return nil
}

// FindContest 按ID查询比赛
func (r *Repository) FindContest(ctx context.Context, contestID string) (*contest.Contest, error) {
	return findContest(r.db.WithContext(ctx), contestID)
}

func findContest(tx *gorm.DB, contestID string) (*contest.Contest, error) {
	var c contest.Contest
	if err := tx.Where("id = ?", contestID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContestNotFound
		}
		return nil, fmt.Errorf("查询比赛 %s 失败: %w", contestID, err)
	}
	return &c, nil
}

// ListContestsAcceptingVotes 返回所有处于投票状态的比赛ID
func (r *Repository) ListContestsAcceptingVotes(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&contest.Contest{}).
		Where("status IN ?", []contest.Status{contest.StatusActive, contest.StatusVoting}).
		Order("id asc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询进行中的比赛失败: %w", err)
	}
	return ids, nil
}

// ListContestants 返回比赛所有参赛者，按ID升序
func (r *Repository) ListContestants(ctx context.Context, contestID string) ([]contest.Contestant, error) {
	var contestants []contest.Contestant
	if err := r.db.WithContext(ctx).Where("contest_id = ?", contestID).Order("id asc").Find(&contestants).Error; err != nil {
		return nil, fmt.Errorf("查询比赛 %s 的参赛者失败: %w", contestID, err)
	}
	return contestants, nil
}

// VotedContestantIDs 返回投票者在比赛中投过票的参赛者ID，按ID升序
func (r *Repository) VotedContestantIDs(ctx context.Context, contestID, voterID string) ([]string, error) {
	ids := []string{}
	err := r.db.WithContext(ctx).Model(&contest.Vote{}).
		Where("contest_id = ? AND voter_id = ?", contestID, voterID).
		Order("contestant_id asc").
		Pluck("contestant_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询投票记录失败: %w", err)
	}
	return ids, nil
}

// CreateContest 保存一个新比赛
func (r *Repository) CreateContest(ctx context.Context, c *contest.Contest) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("创建比赛失败: %w", err)
	}
	return nil
}

// AddContestant 为比赛添加参赛者，已结束的比赛不能再添加
func (r *Repository) AddContestant(ctx context.Context, cs *contest.Contestant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findContest(database.ForUpdate(tx), cs.ContestID)
		if err != nil {
			return err
		}
		if c.Status.IsFinal() {
			return ErrContestFinal
		}
		if err := tx.Create(cs).Error; err != nil {
			return fmt.Errorf("添加参赛者失败: %w", err)
		}
		return nil
	})
}

// SetStatus 修改比赛状态，已结束的比赛只能通过CloseContest重新标注获胜者
func (r *Repository) SetStatus(ctx context.Context, contestID string, status contest.Status) (*contest.Contest, error) {
	var updated *contest.Contest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findContest(database.ForUpdate(tx), contestID)
		if err != nil {
			return err
		}
		if c.Status.IsFinal() && c.Status != status {
			return ErrContestFinal
		}
		if err := tx.Model(c).Update("status", status).Error; err != nil {
			return fmt.Errorf("更新比赛状态失败: %w", err)
		}
		c.Status = status
		updated = c
		return nil
	})
	return updated, err
}

// CloseContest 把比赛标记为已完成，并按最终票数为前winners名标注获胜者。
// 对已完成的比赛再次调用会重新标注获胜者。
func (r *Repository) CloseContest(ctx context.Context, contestID string, winners int) (*contest.Contest, error) {
	var closed *contest.Contest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findContest(database.ForUpdate(tx), contestID)
		if err != nil {
			return err
		}
		if c.Status == contest.StatusCancelled {
			return ErrContestFinal
		}

		var contestants []contest.Contestant
		if err := tx.Where("contest_id = ?", contestID).Find(&contestants).Error; err != nil {
			return fmt.Errorf("查询参赛者失败: %w", err)
		}
		standings := make([]leaderboard.Standing, len(contestants))
		for i, cs := range contestants {
			standings[i] = leaderboard.Standing{ContestantID: cs.ID, VoteCount: cs.VotesCount}
		}

		if err := tx.Model(&contest.Contestant{}).Where("contest_id = ?", contestID).
			Updates(map[string]any{"is_winner": false, "winner_position": nil}).Error; err != nil {
			return fmt.Errorf("清除获胜者标注失败: %w", err)
		}
		for _, e := range leaderboard.Rank(standings, contest.StatusCompleted) {
			if e.Rank > winners {
				break
			}
			if err := tx.Model(&contest.Contestant{}).Where("id = ?", e.ContestantID).
				Updates(map[string]any{"is_winner": true, "winner_position": e.Rank}).Error; err != nil {
				return fmt.Errorf("标注获胜者失败: %w", err)
			}
		}

		if err := tx.Model(c).Update("status", contest.StatusCompleted).Error; err != nil {
			return fmt.Errorf("更新比赛状态失败: %w", err)
		}
		c.Status = contest.StatusCompleted
		closed = c
		return nil
	})
	return closed, err
}

// CastVote 在一个事务中完成投票：检查比赛状态、参赛者归属和名额，写入投票记录并增加计数。
// 比赛行在postgres上被锁定，同一比赛的投票串行执行，保证名额检查不会被并发绕过。
func (r *Repository) CastVote(ctx context.Context, voterID, contestID, contestantID string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findContest(database.ForUpdate(tx), contestID)
		if err != nil {
			return err
		}
		if !c.AcceptsVotes(now) {
			return ErrContestClosed
		}

		var found int64
		if err := tx.Model(&contest.Contestant{}).Where("id = ? AND contest_id = ?", contestantID, contestID).Count(&found).Error; err != nil {
			return fmt.Errorf("查询参赛者失败: %w", err)
		}
		if found == 0 {
			return ErrContestantNotFound
		}

		var existing int64
		if err := tx.Model(&contest.Vote{}).
			Where("contest_id = ? AND contestant_id = ? AND voter_id = ?", contestID, contestantID, voterID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("查询投票记录失败: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyVoted
		}

		var used int64
		if err := tx.Model(&contest.Vote{}).Where("contest_id = ? AND voter_id = ?", contestID, voterID).Count(&used).Error; err != nil {
			return fmt.Errorf("统计已用名额失败: %w", err)
		}
		if used >= int64(c.MaxVotesPerUser) {
			return ErrQuotaExhausted
		}

		vote := contest.Vote{ContestID: contestID, ContestantID: contestantID, VoterID: voterID, CreatedAt: now}
		if err := tx.Create(&vote).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("写入投票记录失败: %w", err)
		}

		if err := tx.Model(&contest.Contestant{}).Where("id = ?", contestantID).
			UpdateColumn("votes_count", gorm.Expr("votes_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("更新票数失败: %w", err)
		}
		return nil
	})
}

// RemoveVote 在一个事务中撤回投票并减少计数，计数不会低于0。返回参赛者所属的比赛ID。
func (r *Repository) RemoveVote(ctx context.Context, voterID, contestantID string, now time.Time) (string, error) {
	var contestID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cs contest.Contestant
		if err := tx.Where("id = ?", contestantID).First(&cs).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrContestantNotFound
			}
			return fmt.Errorf("查询参赛者失败: %w", err)
		}
		contestID = cs.ContestID

		c, err := findContest(database.ForUpdate(tx), cs.ContestID)
		if err != nil {
			return err
		}
		if !c.AcceptsVotes(now) {
			return ErrContestClosed
		}

		result := tx.Where("contest_id = ? AND contestant_id = ? AND voter_id = ?", cs.ContestID, contestantID, voterID).
			Delete(&contest.Vote{})
		if result.Error != nil {
			return fmt.Errorf("删除投票记录失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrVoteNotFound
		}

		if err := tx.Model(&contest.Contestant{}).Where("id = ? AND votes_count > 0", contestantID).
			UpdateColumn("votes_count", gorm.Expr("votes_count - ?", 1)).Error; err != nil {
			return fmt.Errorf("更新票数失败: %w", err)
		}
		return nil
	})
	return contestID, err
}

// Ping 检查数据库连接
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
