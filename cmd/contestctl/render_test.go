package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/SlpAus/contest-vote-engine/internal/contest"
	"github.com/SlpAus/contest-vote-engine/internal/leaderboard"
	"github.com/SlpAus/contest-vote-engine/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := 1
	c := &contest.Contest{Title: "决赛", Status: contest.StatusCompleted}
	view := session.View{
		Entries: []leaderboard.Entry{
			{ContestantID: "a", Name: "Alice", VoteCount: 12345, Rank: 1, PercentageOfLeader: 100, IsWinner: true, WinnerPosition: &first},
			{ContestantID: "b", VoteCount: 6172, Rank: 2, PercentageOfLeader: 50},
		},
		LastUpdateAt: now.Add(-3 * time.Second),
		Stale:        true,
		Err:          errors.New("connection refused"),
	}
	quota := session.Quota{Used: 1, Max: 3, VotedFor: []string{"b"}}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, c, view, quota, now))
	out := buf.String()

	assert.Contains(t, out, "决赛 [COMPLETED]  已用名额 1/3")
	assert.Contains(t, out, "Alice (1st)")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "b *")
	assert.Contains(t, out, "3 seconds 前")
	assert.Contains(t, out, "[STALE] connection refused")
}

func TestBar(t *testing.T) {
	assert.Equal(t, "████████████████████", bar(100))
	assert.Equal(t, "··········"+"··········", bar(0))
	assert.Equal(t, "██████████··········", bar(50))
}

func TestParseFlags(t *testing.T) {
	_, _, err := parseFlags("explode", nil)
	assert.Error(t, err)

	_, _, err = parseFlags("vote", []string{"--contest", "c1"})
	assert.Error(t, err, "投票需要参赛者")

	cfg, opts, err := parseFlags("watch", []string{"--contest", "c1", "--server", "http://votes:9000", "--interval", "2s"})
	require.NoError(t, err)
	assert.Equal(t, "c1", opts.contestID)
	assert.Equal(t, "http://votes:9000", cfg.Client.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Sync.Interval)
	assert.Less(t, cfg.Sync.Timeout, cfg.Sync.Interval)
}
