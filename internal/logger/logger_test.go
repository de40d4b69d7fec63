package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestInitSetsDefault(t *testing.T) {
	Init("debug", "json")
	assert.NotNil(t, L)
	assert.True(t, L.Enabled(t.Context(), slog.LevelDebug))

	Init("error", "text")
	assert.False(t, L.Enabled(t.Context(), slog.LevelInfo))
}
