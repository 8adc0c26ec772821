package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/session"
	"github.com/dustin/go-humanize"
)

const barWidth = 20

// render 把排行榜输出为文本表格
func render(w io.Writer, c *contest.Contest, view session.View, quota session.Quota, now time.Time) error {
	fmt.Fprintf(w, "%s [%s]  已用名额 %d/%d\n\n", c.Title, c.Status, quota.Used, quota.Max)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "名次\t参赛者\t票数\t占领先者\t")
	for _, e := range view.Entries {
		name := e.Name
		if name == "" {
			name = e.ContestantID
		}
		if slices.Contains(quota.VotedFor, e.ContestantID) {
			name += " *"
		}
		if e.IsWinner && e.WinnerPosition != nil {
			name += fmt.Sprintf(" (%s)", humanize.Ordinal(*e.WinnerPosition))
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s %3d%%\t\n", e.Rank, name, humanize.Comma(e.VoteCount), bar(e.PercentageOfLeader), e.PercentageOfLeader)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	updated := "尚未同步"
	if !view.LastUpdateAt.IsZero() {
		updated = "更新于 " + humanize.RelTime(view.LastUpdateAt, now, "前", "后")
	}
	fmt.Fprintf(w, "\n%s", updated)
	if view.Stale {
		fmt.Fprintf(w, "  [STALE] %v", view.Err)
	}
	fmt.Fprintln(w)
	return nil
}

func bar(pct int) string {
	filled := pct * barWidth / 100
	return strings.Repeat("█", filled) + strings.Repeat("·", barWidth-filled)
}
