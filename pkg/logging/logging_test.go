package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLogCapturesOutput(t *testing.T) {
	task := NewTaskLog("alice@example.com")

	task.Logger.Info().Msg("starting login")
	task.Logger.Warn().Str("window", "main").Msg("unexpected redirect")

	out := task.Contents()
	assert.Contains(t, out, "starting login")
	assert.Contains(t, out, "unexpected redirect")
	assert.Contains(t, out, "alice@example.com")
}

func TestTaskLogLastError(t *testing.T) {
	task := NewTaskLog("bob@example.com")

	assert.Empty(t, task.LastError())

	task.Logger.Error().Msg("first failure")
	task.Logger.Info().Msg("recovering")
	task.Logger.Error().Msg("second failure")

	assert.Equal(t, "second failure", task.LastError())
}

func TestSessionIDStable(t *testing.T) {
	first := SessionID()
	require.NotEmpty(t, first)
	assert.Equal(t, first, SessionID())
}
