package contest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" voting ")
	require.NoError(t, err)
	assert.Equal(t, StatusVoting, s)

	_, err = ParseStatus("paused")
	assert.Error(t, err)
}

func TestContestAcceptsVotes(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	c := Contest{Status: StatusActive, StartTime: start, EndTime: end}

	assert.True(t, c.AcceptsVotes(start), "开始时刻应当可以投票")
	assert.True(t, c.AcceptsVotes(end), "结束时刻应当可以投票")
	assert.False(t, c.AcceptsVotes(start.Add(-time.Second)))
	assert.False(t, c.AcceptsVotes(end.Add(time.Second)))

	for _, status := range []Status{StatusDraft, StatusPublished, StatusCompleted, StatusCancelled} {
		c.Status = status
		assert.False(t, c.AcceptsVotes(start.Add(time.Hour)), status)
	}
	c.Status = StatusVoting
	assert.True(t, c.AcceptsVotes(start.Add(time.Hour)))
}
