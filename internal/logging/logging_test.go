package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/programme-lv/skillfactory/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
	} {
		got, err := logging.ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(&buf, logging.Options{Level: slog.LevelWarn, NoColor: true})
	l.Info("hidden")
	l.Warn("shown", "task", "httpx")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "task=httpx")

	buf.Reset()
	l = logging.New(&buf, logging.Options{Level: slog.LevelInfo, JSON: true})
	l.Info("batch finished", "success", 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "batch finished", rec["msg"])
	assert.EqualValues(t, 2, rec["success"])
}

func TestNewWritesToLogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	f, err := logging.OpenFile(dir)
	require.NoError(t, err)

	var console bytes.Buffer
	l := logging.New(&console, logging.Options{Level: slog.LevelInfo, File: f})
	l.With("task", "httpx").Info("pipeline started", "language", "python")
	l.Debug("below level")
	require.NoError(t, f.Close())

	// a second process appends instead of truncating
	f, err = logging.OpenFile(dir)
	require.NoError(t, err)
	logging.New(&console, logging.Options{Level: slog.LevelInfo, File: f}).Warn("second run")
	require.NoError(t, f.Close())

	b, err := os.ReadFile(filepath.Join(dir, logging.LogFileName))
	require.NoError(t, err)
	content := string(b)
	assert.Contains(t, content, "pipeline started")
	assert.Contains(t, content, "task=httpx")
	assert.Contains(t, content, "second run")
	assert.NotContains(t, content, "below level")
	assert.NotContains(t, content, "\x1b[")

	assert.Contains(t, console.String(), "pipeline started")
	assert.Contains(t, console.String(), "second run")
}
