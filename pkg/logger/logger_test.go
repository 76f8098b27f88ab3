package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud")
	assert.Error(t, err)
}

func TestNewWithConfigRejectsUnknownFormat(t *testing.T) {
	_, err := NewWithConfig(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	log, err := New("warn")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zap.InfoLevel))
	assert.True(t, log.Core().Enabled(zap.ErrorLevel))

	log, err = New("")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")
	log, err := NewWithConfig(Config{Level: "debug", Format: "console", File: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("task completed", zap.String("task_id", "t-1"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "task completed", entry["msg"])
	assert.Equal(t, "t-1", entry["task_id"])
	assert.Contains(t, entry, "timestamp")
}
