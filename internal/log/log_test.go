package log

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	require.NoError(t, Init(Config{Level: LevelDebug, Dir: dir}))
	Info("hello", "k", "v")

	_, err := os.Stat(dir)
	assert.NoError(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: LevelWarn}))
	SetOutput(&buf)

	Info("should not appear")
	Warn("careful", "case", "c1")
	Error("boom", errors.New("bad thing"), "entry", "e1")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "careful")
	assert.Contains(t, out, "case=c1")
	assert.Contains(t, out, "bad thing")
	assert.Contains(t, out, "entry=e1")

	SetLevel(LevelDebug)
	Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("loud"))
}
