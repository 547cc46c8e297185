package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTextLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")

	log, closer := NewTextLogger(path, slog.LevelInfo)
	log.Info(context.Background(), "scan complete", "files", 3)
	log.Debug(context.Background(), "hidden")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(b)
	assert.Contains(t, out, "msg=\"scan complete\"")
	assert.Contains(t, out, "files=3")
	assert.NotContains(t, out, "hidden")
}

func TestNewTextLogger_StderrCloserIsNoop(t *testing.T) {
	_, closer := NewTextLogger("", slog.LevelInfo)
	assert.NoError(t, closer.Close())
}
