package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/common/configtypes"
)

func fileConfig(t *testing.T, level, format string) (configtypes.LogConfig, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inkdash.log")
	return configtypes.LogConfig{
		Level: level,
		File: configtypes.FileLogConfig{
			Enabled: true,
			Path:    path,
			Format:  format,
			Rotation: configtypes.RotationConfig{
				MaxSize:    1,
				MaxBackups: 1,
			},
		},
	}, path
}

func readLog(t *testing.T, dl *DynamicLogger, path string) string {
	t.Helper()
	_ = dl.Sync()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestNewLogger_Outputs(t *testing.T) {
	t.Run("json file", func(t *testing.T) {
		cfg, path := fileConfig(t, "debug", configtypes.LogFormatJSON)
		dl, err := NewLogger(cfg)
		require.NoError(t, err)

		dl.Info("render finished", zap.Int("width", 800))
		content := readLog(t, dl, path)
		assert.Contains(t, content, `"msg":"render finished"`)
		assert.Contains(t, content, `"width":800`)
	})

	t.Run("text file has no color codes", func(t *testing.T) {
		cfg, path := fileConfig(t, "info", configtypes.LogFormatText)
		dl, err := NewLogger(cfg)
		require.NoError(t, err)

		dl.Warn("probe failed")
		content := readLog(t, dl, path)
		assert.Contains(t, content, "WARN")
		assert.NotContains(t, content, "\x1b[")
	})

	t.Run("console and file", func(t *testing.T) {
		cfg, path := fileConfig(t, "info", configtypes.LogFormatJSON)
		cfg.Console = configtypes.ConsoleLogConfig{Enabled: true, Format: configtypes.LogFormatConsole}
		dl, err := NewLogger(cfg)
		require.NoError(t, err)

		dl.Info("both outputs")
		assert.Contains(t, readLog(t, dl, path), "both outputs")
	})
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(configtypes.LogConfig{Level: "info"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one log output")

	_, err = NewLogger(configtypes.LogConfig{File: configtypes.FileLogConfig{Enabled: true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file.path must be specified")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		present []string
		absent  []string
	}{
		{level: "debug", present: []string{"debug message", "info message"}},
		{level: "info", present: []string{"info message"}, absent: []string{"debug message"}},
		{level: "warn", present: []string{"warn message"}, absent: []string{"info message"}},
		{level: "error", present: []string{"error message"}, absent: []string{"warn message"}},
		{level: "bogus", present: []string{"info message"}, absent: []string{"debug message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg, path := fileConfig(t, tt.level, configtypes.LogFormatJSON)
			dl, err := NewLogger(cfg)
			require.NoError(t, err)

			dl.Debug("debug message")
			dl.Info("info message")
			dl.Warn("warn message")
			dl.Error("error message")

			content := readLog(t, dl, path)
			for _, s := range tt.present {
				assert.Contains(t, content, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, content, s)
			}
		})
	}
}

func TestStartupOverride(t *testing.T) {
	cfg, path := fileConfig(t, "error", configtypes.LogFormatJSON)
	dl, err := NewLoggerWithStartupOverride(cfg)
	require.NoError(t, err)

	dl.Info("starting up")
	dl.SwitchToConfiguredLevel()
	dl.Info("after switch")
	dl.EnsureInfoLevelForShutdown()
	dl.Info("shutting down")

	content := readLog(t, dl, path)
	assert.Contains(t, content, "starting up")
	assert.NotContains(t, content, "after switch")
	assert.Contains(t, content, "shutting down")
}

func TestNewDefaultLogger(t *testing.T) {
	dl, err := NewDefaultLogger()
	require.NoError(t, err)
	dl.Debug("default logger")
}
