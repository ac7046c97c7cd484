package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		env            string
		expectedLevel  slog.Level
		expectedPretty bool
	}{
		{
			name:           "local environment",
			env:            config.EnvLocal,
			expectedLevel:  slog.LevelDebug,
			expectedPretty: true,
		},
		{
			name:           "dev environment",
			env:            config.EnvDev,
			expectedLevel:  slog.LevelDebug,
			expectedPretty: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fakeTerminal(t, true)

			logger := New(tt.env)
			require.NotNil(t, logger)
			_, pretty := logger.Handler().(*prettyHandler)
			assert.Equal(t, tt.expectedPretty, pretty)
			ctx := context.Background()
			assert.Equal(t, tt.expectedLevel <= 0, logger.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.expectedLevel <= slog.LevelInfo, logger.Enabled(ctx, slog.LevelInfo))
		})
	}
}

// fakeTerminal направляет вывод в буфер и подменяет проверку терминала.
func fakeTerminal(t *testing.T, tty bool) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prevOut, prevTTY := stdout, isTerminal
	stdout = &buf
	isTerminal = func() bool { return tty }
	t.Cleanup(func() {
		stdout, isTerminal = prevOut, prevTTY
	})
	return &buf
}

func TestNew_LocalTerminalIsPretty(t *testing.T) {
	fakeTerminal(t, true)

	logger := New(config.EnvLocal)
	require.NotNil(t, logger)

	_, ok := logger.Handler().(*prettyHandler)
	assert.True(t, ok)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestWithLevel_LocalTerminalKeepsPrettyHandler(t *testing.T) {
	buf := fakeTerminal(t, true)

	logger := WithLevel(config.EnvLocal, "warn")
	_, ok := logger.Handler().(*prettyHandler)
	require.True(t, ok, "explicit level must not drop the pretty handler")

	logger.Info("hidden")
	logger.Warn("queue stalled", "pending", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "queue stalled")
	assert.Contains(t, out, `"pending": 4`)
}

func TestWithLevel_LocalPipeIsText(t *testing.T) {
	buf := fakeTerminal(t, false)

	logger := WithLevel(config.EnvLocal, "debug")
	_, ok := logger.Handler().(*prettyHandler)
	assert.False(t, ok)

	logger.Debug("drain started")
	assert.Contains(t, buf.String(), "msg=\"drain started\"")
}

func TestNewLoggerLevels(t *testing.T) {
	ctx := context.Background()

	// Prod - только INFO и выше
	prodLogger := New(config.EnvProd)
	assert.False(t, prodLogger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, prodLogger.Enabled(ctx, slog.LevelInfo))

	// Dev - DEBUG и выше
	devLogger := New(config.EnvDev)
	assert.True(t, devLogger.Enabled(ctx, slog.LevelDebug))
	assert.True(t, devLogger.Enabled(ctx, slog.LevelInfo))

	// Local - DEBUG (pretty)
	localLogger := New(config.EnvLocal)
	assert.True(t, localLogger.Enabled(ctx, slog.LevelDebug))
}

func TestWithLevel(t *testing.T) {
	ctx := context.Background()

	warn := WithLevel(config.EnvProd, "warn")
	assert.False(t, warn.Enabled(ctx, slog.LevelInfo))
	assert.True(t, warn.Enabled(ctx, slog.LevelWarn))

	fallback := WithLevel(config.EnvProd, "loud")
	assert.True(t, fallback.Enabled(ctx, slog.LevelInfo))
}

func TestPrettyHandler_WritesMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, slog.LevelInfo)).With("component", "scheduler")

	log.Debug("hidden")
	log.Info("drain finished", "succeeded", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "drain finished")
	assert.Contains(t, out, `"component": "scheduler"`)
	assert.Contains(t, out, `"succeeded": 3`)
}
