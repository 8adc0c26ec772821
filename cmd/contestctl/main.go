package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/platform/config"
	"github.com/SlpAus/contest-vote-engine/internal/platform/logging"
	"github.com/SlpAus/contest-vote-engine/internal/session"
	"github.com/SlpAus/contest-vote-engine/internal/voting"
	"github.com/avast/retry-go/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `用法: contestctl <command> [flags]

命令:
  watch   --contest ID                     实时显示排行榜
  vote    --contest ID --contestant CID    为参赛者投票
  unvote  --contest ID --contestant CID    撤回投票

通用参数:
  --server URL    投票服务地址 (client.baseURL)
  --token TOKEN   投票者令牌 (client.voterToken)
`

type options struct {
	contestID    string
	contestantID string
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	cfg, opts, err := parseFlags(command, os.Args[2:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	logging.BootstrapLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := voting.NewClient(cfg.Client.BaseURL, cfg.Client.VoterToken, nil)
	sess := session.New(client, opts.contestID, session.OptionsFromConfig(cfg.Sync))

	switch command {
	case "watch":
		err = runWatch(ctx, sess)
	case "vote":
		err = runVote(ctx, sess, opts.contestantID, true)
	case "unvote":
		err = runVote(ctx, sess, opts.contestantID, false)
	}

	if cfg.Client.VoterToken == "" && client.VoterToken() != "" && command != "watch" {
		fmt.Printf("\n服务端签发了新的投票者令牌，之后请带上 --token %s\n", client.VoterToken())
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(command string, args []string) (*config.Config, options, error) {
	var opts options
	switch command {
	case "watch", "vote", "unvote":
	default:
		return nil, opts, fmt.Errorf("未知命令: %s", command)
	}

	fs := pflag.NewFlagSet(command, pflag.ContinueOnError)
	fs.StringVar(&opts.contestID, "contest", "", "比赛ID")
	if command != "watch" {
		fs.StringVar(&opts.contestantID, "contestant", "", "参赛者ID")
	}
	fs.String("server", "", "投票服务地址")
	fs.String("token", "", "投票者令牌")
	fs.Duration("interval", 0, "排行榜轮询间隔")
	fs.String("log-level", "warn", "日志级别")
	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if opts.contestID == "" {
		return nil, opts, errors.New("缺少 --contest")
	}
	if command != "watch" && opts.contestantID == "" {
		return nil, opts, errors.New("缺少 --contestant")
	}

	v := config.New()
	v.SetDefault("log.level", "warn")
	bindings := map[string]string{
		"client.baseURL":    "server",
		"client.voterToken": "token",
		"sync.interval":     "interval",
		"log.level":         "log-level",
	}
	for key, name := range bindings {
		if err := bindChanged(v, key, fs.Lookup(name)); err != nil {
			return nil, opts, err
		}
	}
	// 缩短间隔时同时收紧超时，保证超时小于间隔
	if fs.Lookup("interval").Changed {
		interval, _ := fs.GetDuration("interval")
		if v.GetDuration("sync.timeout") >= interval {
			v.Set("sync.timeout", interval*4/5)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

func bindChanged(v *viper.Viper, key string, flag *pflag.Flag) error {
	if flag == nil || !flag.Changed {
		return nil
	}
	return v.BindPFlag(key, flag)
}

// loadSession 加载比赛和投票记录，网络错误时按指数退避重试
func loadSession(ctx context.Context, sess *session.Session) error {
	return retry.Do(
		func() error { return sess.Load(ctx) },
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(voting.IsRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logging.Log.Warnf("加载比赛失败 (第 %d 次)，稍后重试: %v", n+1, err)
		}),
	)
}

func runVote(ctx context.Context, sess *session.Session, contestantID string, cast bool) error {
	if err := loadSession(ctx, sess); err != nil {
		return err
	}

	var err error
	if cast {
		err = sess.Vote(ctx, contestantID)
	} else {
		err = sess.RemoveVote(ctx, contestantID)
	}
	q := sess.Quota()
	switch {
	case err == nil && cast:
		fmt.Printf("投票成功。已用名额 %d/%d，剩余 %d\n", q.Used, q.Max, q.Remaining)
	case err == nil:
		fmt.Printf("撤票成功。已用名额 %d/%d，剩余 %d\n", q.Used, q.Max, q.Remaining)
	case errors.Is(err, voting.ErrQuotaExceeded):
		return fmt.Errorf("名额已用完 (%d/%d)，请先撤回一票: %w", q.Used, q.Max, err)
	default:
		return err
	}
	return nil
}

func runWatch(ctx context.Context, sess *session.Session) error {
	if err := loadSession(ctx, sess); err != nil {
		return err
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	c, _ := sess.Contest()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastVersion uint64
	var lastStale bool
	for {
		view := sess.Leaderboard()
		if view.Version != lastVersion || view.Stale != lastStale {
			lastVersion, lastStale = view.Version, view.Stale
			fmt.Print("\033[H\033[2J")
			if err := render(os.Stdout, c, view, sess.Quota(), time.Now()); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
