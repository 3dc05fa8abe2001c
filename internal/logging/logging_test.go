package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "prreview.log")

	l, closer, err := New("info", file)
	require.NoError(t, err)
	l.Debug().Msg("hidden")
	l.Info().Str("session_id", "s1").Msg("session started")
	closer()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "session started", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_AppendsAcrossRuns(t *testing.T) {
	file := filepath.Join(t.TempDir(), "prreview.log")

	for range 2 {
		l, closer, err := New("debug", file)
		require.NoError(t, err)
		l.Debug().Msg("run")
		closer()
	}

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestNew_InvalidLevel(t *testing.T) {
	_, closer, err := New("loud", "")
	assert.Error(t, err)
	closer()
}
