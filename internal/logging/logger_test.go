package logging

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return NewLogger(&Config{
		Level:   level,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}}},
		{name: "nil output", config: &Config{Level: LevelInfo, Sync: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			require.NotNil(t, logger)
			require.NoError(t, logger.Close())
		})
	}
}

func TestLoggerWithDeviceAndRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	deviceLogger := logger.WithDevice(42)
	deviceLogger.Info("test message")
	assert.Contains(t, buf.String(), "device_id=42")

	buf.Reset()
	deviceLogger.ForRequest("abc", "READ").Debug("request deferred", "bytes", 512)
	output := buf.String()
	assert.Contains(t, output, "device_id=42")
	assert.Contains(t, output, "request=abc")
	assert.Contains(t, output, "op=READ")
	assert.Contains(t, output, "bytes=512")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.WithError(errors.New("test error")).Error("operation failed")
	assert.Contains(t, buf.String(), "test error")
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	reqLog := newTestLogger(&buf, LevelWarn).WithDevice(1).ForRequest("r1", "WRITE")

	reqLog.Debug("hidden debug", "bytes", 10)
	assert.Empty(t, buf.String())

	reqLog.Warn("allocation failed", "error", errors.New("no memory"))
	output := buf.String()
	assert.Contains(t, output, "device_id=1")
	assert.Contains(t, output, "request=r1")
	assert.Contains(t, output, "op=WRITE")
	assert.Contains(t, output, "no memory")

	buf.Reset()
	reqLog.Error("completed twice")
	assert.Contains(t, buf.String(), "completed twice")
}

func TestRequestLoggerDisabledLevelDoesNotAllocate(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelWarn, Output: io.Discard, Sync: true}).WithDevice(1)

	allocs := testing.AllocsPerRun(100, func() {
		logger.ForRequest("r1", "READ").Debug("completion deferred to timer")
	})
	assert.Zero(t, allocs)
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelWarn)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warning", "n", 1)

	output := buf.String()
	assert.NotContains(t, output, "hidden")
	assert.Contains(t, output, "visible warning")
}

func TestLoggerOddArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug)

	logger.Info("odd args", "key", "value", 7, "x", "dangling")
	output := buf.String()
	assert.Contains(t, output, "key=value")
	assert.NotContains(t, output, "dangling")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LevelDebug, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

type closeTracker struct {
	bytes.Buffer
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestBufferedOutputFlushedOnClose(t *testing.T) {
	out := &closeTracker{}
	logger := NewLogger(&Config{Level: LevelInfo, Format: "json", Output: out})

	logger.WithDevice(3).Info("queued message", "n", 3)
	require.NoError(t, logger.Close())

	assert.Contains(t, out.String(), "queued message")
	assert.False(t, out.closed, "closing the logger must not close its output")
}

func TestDefaultLogger(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	custom := newTestLogger(&buf, LevelDebug)
	SetDefault(custom)
	assert.Same(t, custom, Default())

	Default().Debug("debug message", "key", "value")
	assert.Contains(t, buf.String(), "key=value")

	SetDefault(nil)
	fresh := Default()
	require.NotNil(t, fresh)
	assert.Same(t, fresh, Default())
}

func TestDerivedLoggerCloseIsNoop(t *testing.T) {
	logger := NewLogger(&Config{Level: LevelInfo, Output: io.Discard})
	t.Cleanup(func() { logger.Close() })
	assert.NoError(t, logger.WithDevice(1).Close())
}
