package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, level, err := New(true, "debug")
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.Equal(t, zapcore.DebugLevel, level.Level())
	logger.Debug("development logger ready")
}

func TestNewProductionLoggerLevelChanges(t *testing.T) {
	t.Parallel()

	logger, level, err := New(false, "")
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	level.SetLevel(zapcore.DebugLevel)
	require.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	_, _, err := New(false, "chatty")
	require.ErrorContains(t, err, "parse log level")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	lvl, err := ParseLevel(" WARN ")
	require.NoError(t, err)
	require.Equal(t, zapcore.WarnLevel, lvl)
}

func TestThrottle(t *testing.T) {
	t.Parallel()

	th := &Throttle{Interval: time.Second}
	start := time.Unix(100, 0)
	require.True(t, th.Allow(start))
	require.False(t, th.Allow(start.Add(500*time.Millisecond)))
	require.True(t, th.Allow(start.Add(1500*time.Millisecond)))

	var zero *Throttle
	require.True(t, zero.Allow(start))
	require.True(t, (&Throttle{}).Allow(start))
}
