package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			require.NotNil(t, logger)
		})
	}
}

func TestLoggerWithObjectContext(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true}

	logger := NewLogger(config)

	driverLogger := logger.WithDriver(42)
	driverLogger.Info("test message")
	assert.Contains(t, buf.String(), "pid=42")

	buf.Reset()
	objLogger := driverLogger.WithObject(7)
	objLogger.Info("object message")
	output := buf.String()
	assert.Contains(t, output, "pid=42")
	assert.Contains(t, output, "handle=7")
}

func TestLoggerWithTransaction(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true}

	logger := NewLogger(config)
	txnLogger := logger.WithTransaction(123, 0x40000000)
	txnLogger.Debug("processing transaction")

	output := buf.String()
	assert.Contains(t, output, "txn=123")
	assert.Contains(t, output, "code=1073741824")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true}

	logger := NewLogger(config)
	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	assert.Contains(t, buf.String(), "test error")
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf, Sync: true, NoColor: true}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "key=value")

	buf.Reset()
	Info("info message")
	assert.Contains(t, buf.String(), "info message")

	buf.Reset()
	Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}
