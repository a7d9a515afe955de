package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOutput(t *testing.T) {
	stdout, err := RunOutput(context.Background(), "", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(stdout))
}

func TestRunOutputCwd(t *testing.T) {
	stdout, err := RunOutput(context.Background(), "/", "pwd")
	require.NoError(t, err)
	assert.Equal(t, "/\n", string(stdout))
}

func TestRunOutputFailure(t *testing.T) {
	_, err := RunOutput(context.Background(), "", "sh", "-c", "echo oops >&2; exit 1")
	require.Error(t, err)

	detailed, ok := err.(DetailedError)
	require.True(t, ok)
	assert.Contains(t, detailed.Details(), "oops")
}

func TestRunOutputTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := RunOutput(ctx, "", "sleep", "10")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
