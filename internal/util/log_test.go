package util

import (
	"bytes"
	"io"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
)

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	SetLogWriter(&buf)
	level := pterm.DefaultLogger.Level
	t.Cleanup(func() {
		SetLogWriter(io.Discard)
		pterm.DefaultLogger.Level = level
	})
	pterm.DefaultLogger.Level = pterm.LogLevelInfo

	LogDebug("dial %d", 1)
	assert.NotContains(t, buf.String(), "dial 1")

	LogWarning("refused %s", "ws://a")
	assert.Contains(t, buf.String(), "refused ws://a")

	EnableDebug()
	LogDebug("dial %d", 2)
	assert.Contains(t, buf.String(), "dial 2")
}
