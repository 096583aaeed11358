// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/renew-cli/internal/config"
)

type syncBuffer struct {
	bytes.Buffer
}

func (*syncBuffer) Sync() error { return nil }

func TestInitializeWritesStructuredOutput(t *testing.T) {
	t.Cleanup(ResetForTest)
	ResetForTest()

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "renew-test",
	}, zapcore.AddSync(buf))

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Info("challenge resolved", zap.Int("attempt", 2))
	_ = logger.Sync()

	out := buf.String()
	assert.Contains(t, out, "challenge resolved")
	assert.Contains(t, out, "renew-test")
	assert.Contains(t, out, `"attempt":2`)
}

func TestInitializeRunsOnce(t *testing.T) {
	t.Cleanup(ResetForTest)
	ResetForTest()

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(first))
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(second))

	GetLogger().Info("only the first writer sees this")
	_ = GetLogger().Sync()

	assert.Contains(t, first.String(), "only the first writer sees this")
	assert.Empty(t, second.String())
}

func TestGetLoggerFallsBackBeforeInitialize(t *testing.T) {
	t.Cleanup(ResetForTest)
	ResetForTest()

	assert.NotNil(t, GetLogger())
}

func TestBadLevelFallsBackToInfo(t *testing.T) {
	t.Cleanup(ResetForTest)
	ResetForTest()

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "nonsense", Format: "json"}, zapcore.AddSync(buf))

	GetLogger().Debug("suppressed")
	GetLogger().Info("visible")
	_ = GetLogger().Sync()

	out := buf.String()
	assert.NotContains(t, out, "suppressed")
	assert.Contains(t, out, "visible")
}
