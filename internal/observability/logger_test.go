// internal/observability/logger_test.go
package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dvbotkin/macrotape/internal/config"
)

// memSink is an in-memory WriteSyncer for asserting on log output. The
// logger is a global singleton, so every test resets it first.
type memSink struct {
	strings.Builder
}

func (s *memSink) Sync() error { return nil }

func newLoggerConfig(format string) config.LoggerConfig {
	return config.LoggerConfig{
		Level:       "debug",
		Format:      format,
		ServiceName: "macrotape",
	}
}

func TestInitializeConsoleLogger(t *testing.T) {
	ResetForTest()
	sink := &memSink{}
	Initialize(newLoggerConfig("console"), zapcore.Lock(sink))

	GetLogger().Named("player").Info("Executing action")
	out := sink.String()

	assert.Contains(t, out, "macrotape.player.")
	assert.Contains(t, out, "Executing action")
}

func TestInitializeJSONLogger(t *testing.T) {
	ResetForTest()
	sink := &memSink{}
	Initialize(newLoggerConfig("json"), zapcore.Lock(sink))

	GetLogger().Info("recorded", zap.Int("count", 3))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sink.String()), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "recorded", entry["msg"])
	assert.Equal(t, float64(3), entry["count"])
}

func TestInitializeIsIdempotent(t *testing.T) {
	ResetForTest()
	first := &memSink{}
	second := &memSink{}

	Initialize(newLoggerConfig("json"), zapcore.Lock(first))
	Initialize(newLoggerConfig("json"), zapcore.Lock(second))

	GetLogger().Info("only once")
	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String())
}

func TestFileLoggingIsAlwaysJSON(t *testing.T) {
	ResetForTest()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "macrotape.log")

	cfg := newLoggerConfig("console")
	cfg.LogFile = logPath
	Initialize(cfg, zapcore.Lock(&memSink{}))

	GetLogger().Warn("rotation target")
	require.NoError(t, GetLogger().Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "rotation target", entry["msg"])
}

func TestGetLoggerBeforeInitializeFallsBack(t *testing.T) {
	ResetForTest()
	logger := GetLogger()
	require.NotNil(t, logger)
}
