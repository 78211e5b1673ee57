package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hooplab/pdf-renderer/internal/common/configtypes"
)

func TestNewLogger_ConsoleOnly(t *testing.T) {
	log, err := NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))
}

func TestNewLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()

	log, err := NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelInfo,
		File: configtypes.FileLogConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "service.log"),
			Format:  configtypes.LogFormatJSON,
		},
	})
	require.NoError(t, err)

	log.Info("file output works")
	require.NoError(t, log.Sync())

	assert.FileExists(t, filepath.Join(dir, "service.log"))
}

func TestNewLogger_FileWithoutPath(t *testing.T) {
	_, err := NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelInfo,
		File:  configtypes.FileLogConfig{Enabled: true},
	})
	assert.Error(t, err)
}

func TestNewLogger_NoOutputs(t *testing.T) {
	_, err := NewLogger(configtypes.LogConfig{Level: configtypes.LogLevelInfo})
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{configtypes.LogLevelDebug, zap.DebugLevel},
		{configtypes.LogLevelInfo, zap.InfoLevel},
		{configtypes.LogLevelWarn, zap.WarnLevel},
		{configtypes.LogLevelError, zap.ErrorLevel},
		{"bogus", zap.InfoLevel},
		{"", zap.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.input), tt.input)
	}
}

func TestResolveLogLevel(t *testing.T) {
	// Per-output level overrides the global one
	assert.Equal(t, zap.ErrorLevel, resolveLogLevel(configtypes.LogLevelError, zap.DebugLevel))
	// Empty output level falls back to global
	assert.Equal(t, zap.WarnLevel, resolveLogLevel("", zap.WarnLevel))
}
