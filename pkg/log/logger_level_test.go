package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "debug 1")
	assert.NotContains(t, out, "info 2")
	assert.Contains(t, out, "warn 3")
	assert.Contains(t, out, "error 4")
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelError)

	logger.Info("hidden")
	logger.SetLevel(LevelDebug)
	logger.Info("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}
