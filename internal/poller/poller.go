package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyPolling 表示轮询器已经在运行
var ErrAlreadyPolling = errors.New("轮询器已在运行")

// Source 提供比赛参赛者票数的完整快照
type Source interface {
	Contestants(ctx context.Context, contestID string) ([]leaderboard.Standing, error)
}

// VoteUpdate 描述某个参赛者票数的变化
type VoteUpdate struct {
	ContestantID string `json:"contestantId"`
	VoteCount    int64  `json:"voteCount"`
	Rank         int    `json:"rank"`
}

// Snapshot 是一次成功拉取的结果
type Snapshot struct {
	ContestID string
	Standings []leaderboard.Standing
	FetchedAt time.Time
}

// ConnectionError 表示拉取失败。上一次成功的快照仍然有效，只是可能已经过期。
type ConnectionError struct {
	ContestID string
	Failures  int
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("比赛 %s 的排行榜同步失败 (连续 %d 次): %v", e.ContestID, e.Failures, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Status 是轮询器对外暴露的状态
type Status struct {
	Polling      bool
	ContestID    string
	LastUpdateAt time.Time
	// Err 不为nil时表示最近一次拉取失败，展示的数据已过期
	Err                 error
	Stale               bool
	ConsecutiveFailures int
	SkippedTicks        uint64
}

// Options 定义了轮询器的可选参数
type Options struct {
	// Timeout 限制单次拉取的耗时，必须小于轮询间隔；不合法时取间隔的80%
	Timeout time.Duration
	// MaxBackoff 是连续失败时退避的上限；不大于间隔时不做退避
	MaxBackoff time.Duration
}

// Poller 以固定间隔拉取比赛的完整票数快照，并把变化通知给订阅者。
// 同一时刻最多只有一个拉取在途，上一次拉取未完成时到达的tick会被跳过。
type Poller struct {
	source Source
	opts   Options

	inFlight atomic.Bool
	fetches  sync.WaitGroup

	mu            sync.Mutex
	contestID     string
	interval      time.Duration
	parent        context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	previous      map[string]int64
	snapshot      *Snapshot
	status        Status
	skipRemaining int

	subMu      sync.RWMutex
	onUpdate   []func(VoteUpdate)
	onSnapshot []func(Snapshot)
	onFailure  []func(error)
}

// New 创建一个处于停止状态的轮询器
func New(source Source, opts Options) *Poller {
	return &Poller{source: source, opts: opts}
}

// Subscribe 注册票数变化的回调。回调在拉取协程中串行执行，不能在回调中调用Stop。
func (p *Poller) Subscribe(fn func(VoteUpdate)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.onUpdate = append(p.onUpdate, fn)
}

// OnSnapshot 注册每次成功拉取后的回调
func (p *Poller) OnSnapshot(fn func(Snapshot)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.onSnapshot = append(p.onSnapshot, fn)
}

// OnFailure 注册拉取失败的回调
func (p *Poller) OnFailure(fn func(error)) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.onFailure = append(p.onFailure, fn)
}

// Start 立即拉取一次，然后每隔interval拉取一次，直到Stop或ctx被取消
func (p *Poller) Start(ctx context.Context, contestID string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("轮询间隔必须大于0: %v", interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyPolling
	}

	if p.contestID != contestID {
		p.previous = nil
		p.snapshot = nil
		p.status = Status{}
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.contestID = contestID
	p.interval = interval
	p.parent = ctx
	p.cancel = cancel
	p.done = make(chan struct{})
	p.skipRemaining = 0
	p.status.Polling = true
	p.status.ContestID = contestID
	p.status.ConsecutiveFailures = 0

	go p.run(loopCtx, contestID, interval, p.done)
	return nil
}

// Stop 取消定时拉取并等待在途的拉取退出，可以重复调用
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.done = nil
	p.status.Polling = false
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.fetches.Wait()
}

// Reconnect 等价于Stop后用相同参数重新Start，通常在长时间失败后调用
func (p *Poller) Reconnect() error {
	p.mu.Lock()
	contestID, interval, parent := p.contestID, p.interval, p.parent
	p.mu.Unlock()

	if parent == nil {
		return errors.New("轮询器从未启动，无法重连")
	}
	p.Stop()
	if parent.Err() != nil {
		return fmt.Errorf("无法重连: %w", parent.Err())
	}
	return p.Start(parent, contestID, interval)
}

// Status 返回轮询器当前状态
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Snapshot 返回最近一次成功拉取的快照
func (p *Poller) Snapshot() (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot == nil {
		return Snapshot{}, false
	}
	return *p.snapshot, true
}

func (p *Poller) run(ctx context.Context, contestID string, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer func() {
		p.fetches.Wait()
		p.loopExited(done)
	}()

	logger := logging.Log.WithFields(logrus.Fields{"contest": contestID, "interval": interval})
	logger.Debug("排行榜轮询已启动")
	defer logger.Debug("排行榜轮询已停止")

	p.tick(ctx, contestID, interval, false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx, contestID, interval, true)
		}
	}
}

// loopExited 在外部ctx被取消导致循环退出时把轮询器置回停止状态。
// Stop已经清理过的情况下done不再匹配，什么也不做。
func (p *Poller) loopExited(done chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != done {
		return
	}
	p.cancel()
	p.cancel = nil
	p.done = nil
	p.status.Polling = false
}

func (p *Poller) tick(ctx context.Context, contestID string, interval time.Duration, scheduled bool) {
	if scheduled {
		p.mu.Lock()
		if p.skipRemaining > 0 {
			p.skipRemaining--
			p.status.SkippedTicks++
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}

	if !p.inFlight.CompareAndSwap(false, true) {
		p.mu.Lock()
		p.status.SkippedTicks++
		p.mu.Unlock()
		return
	}

	p.fetches.Add(1)
	go func() {
		defer p.fetches.Done()
		defer p.inFlight.Store(false)
		p.fetch(ctx, contestID, interval)
	}()
}

func (p *Poller) fetch(ctx context.Context, contestID string, interval time.Duration) {
	fetchCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(p.opts.Timeout, interval))
	defer cancel()

	standings, err := p.source.Contestants(fetchCtx, contestID)
	if ctx.Err() != nil {
		// 已停止，丢弃结果
		return
	}
	if err != nil {
		p.recordFailure(contestID, interval, err)
		return
	}
	p.applySnapshot(contestID, standings, time.Now())
}

func (p *Poller) recordFailure(contestID string, interval time.Duration, err error) {
	p.mu.Lock()
	p.status.ConsecutiveFailures++
	failures := p.status.ConsecutiveFailures
	connErr := &ConnectionError{ContestID: contestID, Failures: failures, Err: err}
	p.status.Err = connErr
	p.status.Stale = true
	p.skipRemaining = backoffSkips(failures, interval, p.opts.MaxBackoff)
	skips := p.skipRemaining
	p.mu.Unlock()

	logging.Log.WithFields(logrus.Fields{
		"contest":  contestID,
		"failures": failures,
		"backoff":  time.Duration(skips+1) * interval,
	}).WithError(err).Warn("排行榜同步失败，继续展示上一次的快照")

	p.subMu.RLock()
	defer p.subMu.RUnlock()
	for _, fn := range p.onFailure {
		fn(connErr)
	}
}

func (p *Poller) applySnapshot(contestID string, standings []leaderboard.Standing, at time.Time) {
	snap := Snapshot{
		ContestID: contestID,
		Standings: append([]leaderboard.Standing(nil), standings...),
		FetchedAt: at,
	}

	p.mu.Lock()
	updates, current := diff(p.previous, snap.Standings)
	p.previous = current
	p.snapshot = &snap
	if p.status.ConsecutiveFailures > 0 {
		logging.Log.WithField("contest", contestID).Infof("排行榜同步已恢复 (此前连续失败 %d 次)", p.status.ConsecutiveFailures)
	}
	p.status.LastUpdateAt = at
	p.status.Err = nil
	p.status.Stale = false
	p.status.ConsecutiveFailures = 0
	p.skipRemaining = 0
	p.mu.Unlock()

	p.subMu.RLock()
	defer p.subMu.RUnlock()
	for _, fn := range p.onSnapshot {
		fn(snap)
	}
	for _, u := range updates {
		for _, fn := range p.onUpdate {
			fn(u)
		}
	}
}

// diff 找出票数发生变化（或首次出现）的参赛者，名次按新快照计算。
// 同时返回归一化之后的票数，作为下一次比较的基准。
func diff(previous map[string]int64, standings []leaderboard.Standing) ([]VoteUpdate, map[string]int64) {
	// 名次与比赛状态无关，状态只影响获胜者标注
	entries := leaderboard.Rank(standings, "")
	current := make(map[string]int64, len(entries))
	var updates []VoteUpdate
	for _, e := range entries {
		current[e.ContestantID] = e.VoteCount
		if old, ok := previous[e.ContestantID]; ok && old == e.VoteCount {
			continue
		}
		updates = append(updates, VoteUpdate{ContestantID: e.ContestantID, VoteCount: e.VoteCount, Rank: e.Rank})
	}
	return updates, current
}

// backoffSkips 返回第n次连续失败后需要跳过的tick数。
// 下一次拉取在 min(interval*2^(n-1), maxBackoff) 之后进行，第一次失败不跳过。
func backoffSkips(failures int, interval, maxBackoff time.Duration) int {
	if failures <= 1 || maxBackoff <= interval {
		return 0
	}
	limit := int(maxBackoff / interval)
	ticks := 1
	for i := 1; i < failures && ticks < limit; i++ {
		ticks *= 2
	}
	return min(ticks, limit) - 1
}

func effectiveTimeout(timeout, interval time.Duration) time.Duration {
	if timeout <= 0 || timeout >= interval {
		return interval * 4 / 5
	}
	return timeout
}
