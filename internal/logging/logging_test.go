package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "ERROR", LevelError.String())
}

func TestLoggerFiltersByLevel(t *testing.T) {
	l, err := New(Config{Level: "warn"})
	require.NoError(t, err)

	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown 2")
}

func TestLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gossip.log")

	l, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	l.WithFields(Fields{"component": "test"}).Debug("structured")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "structured")
	assert.Contains(t, string(data), "component=test")
}

func TestDefaultIsSilentUntilInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Debug("x")
		Error("y")
		WithFields(Fields{"a": 1}).Info("z")
	})
}
