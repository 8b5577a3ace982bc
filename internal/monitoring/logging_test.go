package monitoring

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerConfig{Level: "info", Output: &buf, Component: "bootstrap"})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("service ready", "entities", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "service ready", entry["msg"])
	assert.Equal(t, "medx", entry["service"])
	assert.Equal(t, medx.Version, entry["version"])
	assert.Equal(t, "bootstrap", entry["component"])
	assert.EqualValues(t, 7, entry["entities"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerConfig{Level: "warn", Format: FormatText, Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("breaker open")
	assert.Contains(t, buf.String(), `msg="breaker open"`)
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medx.log")
	var buf bytes.Buffer
	logger, err := NewLogger(LoggerConfig{Output: &buf, File: &FileConfig{Path: path, MaxSizeMB: 1}})
	require.NoError(t, err)

	logger.Info("written twice")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud"})
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)

	_, err = NewLogger(LoggerConfig{Format: "xml"})
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{
		"":      "INFO",
		"DEBUG": "DEBUG",
		" warn": "WARN",
		"error": "ERROR",
	} {
		level, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, level.String(), in)
	}
}
