//go:build !windows

package supervisor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sh/lemonade-router/pkg/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogrusAdapter(logrus.New())
}

func TestStartAndWaitCleanExit(t *testing.T) {
	var out bytes.Buffer
	h, err := Start(context.Background(), Spec{
		Exe:     "/bin/sh",
		Args:    []string{"-c", "echo hello"},
		LogSink: &out,
	}, testLogger())
	require.NoError(t, err)

	err = h.Wait()
	assert.NoError(t, err)
	assert.Equal(t, StateStopped, h.State())
	assert.Contains(t, out.String(), "hello")
}

func TestIsAliveWhileRunning(t *testing.T) {
	var out bytes.Buffer
	h, err := Start(context.Background(), Spec{
		Exe:     "/bin/sh",
		Args:    []string{"-c", "sleep 2"},
		LogSink: &out,
	}, testLogger())
	require.NoError(t, err)
	defer h.Stop(context.Background())

	assert.True(t, h.IsAlive())
}

func TestStopTerminatesGracefully(t *testing.T) {
	var out bytes.Buffer
	h, err := Start(context.Background(), Spec{
		Exe:     "/bin/sh",
		Args:    []string{"-c", "trap 'exit 0' TERM; sleep 30"},
		LogSink: &out,
	}, testLogger())
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Stop(context.Background()))
	assert.Less(t, time.Since(start), GracefulTimeout)
	assert.False(t, h.IsAlive())
}

func TestStopForceKillsUnresponsiveChild(t *testing.T) {
	if testing.Short() {
		t.Skip("force-kill path waits out the graceful timeout")
	}
	var out bytes.Buffer
	h, err := Start(context.Background(), Spec{
		Exe:     "/bin/sh",
		Args:    []string{"-c", "trap '' TERM; sleep 30"},
		LogSink: &out,
	}, testLogger())
	require.NoError(t, err)

	require.NoError(t, h.Stop(context.Background()))
	assert.False(t, h.IsAlive())
}

func TestStopIsIdempotentOnDeadProcess(t *testing.T) {
	var out bytes.Buffer
	h, err := Start(context.Background(), Spec{
		Exe:     "/bin/sh",
		Args:    []string{"-c", "exit 0"},
		LogSink: &out,
	}, testLogger())
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.NoError(t, h.Stop(context.Background()))
}
