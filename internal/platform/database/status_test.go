package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateStatusKeepsRunIDWhileUnhealthy(t *testing.T) {
	t.Cleanup(func() {
		UpdateStatus(true, "")
		SetInitialRunID("")
	})

	SetInitialRunID("run-a")
	assert.True(t, IsRedisHealthy())
	assert.Equal(t, "run-a", GetLastKnownRunID())

	UpdateStatus(false, "")
	assert.False(t, IsRedisHealthy())
	assert.Equal(t, "run-a", GetLastKnownRunID(), "不可用期间保留上一次已知的run_id")

	UpdateStatus(true, "run-b")
	assert.True(t, IsRedisHealthy())
	assert.Equal(t, "run-b", GetLastKnownRunID())
}
