package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, parseLevel("debug"))
	assert.Equal(t, LevelInfo, parseLevel("info"))
	assert.Equal(t, LevelWarn, parseLevel("warn"))
	assert.Equal(t, LevelWarn, parseLevel("warning"))
	assert.Equal(t, LevelError, parseLevel("error"))

	// Unknown and empty fall back to info.
	assert.Equal(t, LevelInfo, parseLevel(""))
	assert.Equal(t, LevelInfo, parseLevel("loud"))
}

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("error")
	configMu.RLock()
	got := logLevel
	configMu.RUnlock()
	assert.Equal(t, LevelError, got)

	SetLevel("debug")
	configMu.RLock()
	got = logLevel
	configMu.RUnlock()
	assert.Equal(t, LevelDebug, got)
}
