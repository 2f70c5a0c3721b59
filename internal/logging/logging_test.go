package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesRotatedJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.log")
	var console bytes.Buffer

	logger, err := New(Options{FilePath: path, Level: "debug", Console: zapcore.AddSync(&console)})
	require.NoError(t, err)

	logger.Info("research started", zap.String("run_id", "run_1"))
	logger.Debug("phase change", zap.String("to", "planning"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"research started"`)
	assert.Contains(t, string(data), `"run_id":"run_1"`)
	assert.Contains(t, console.String(), "phase change")
}

func TestNewRespectsLevel(t *testing.T) {
	var console bytes.Buffer
	logger, err := New(Options{Level: "WARN", Console: zapcore.AddSync(&console)})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("visible")
	_ = logger.Sync()

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "visible")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	require.Error(t, err)
}
