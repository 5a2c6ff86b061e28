package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailagent/internal/config"
)

func TestNewLogger(t *testing.T) {
	var stderr bytes.Buffer
	l, closer, err := newLogger(config.GeneralConfig{LogLevel: "warn", LogFormat: "json"}, &stderr)
	require.NoError(t, err)
	assert.Nil(t, closer)

	l.Info("dropped")
	l.Warn("kept", "k", "v")
	assert.NotContains(t, stderr.String(), "dropped")
	assert.Contains(t, stderr.String(), `"msg":"kept"`)
}

func TestNewLogger_FileAndBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mailagent.log")
	var stderr bytes.Buffer
	l, closer, err := newLogger(config.GeneralConfig{LogLevel: "loud", LogFile: path}, &stderr)
	require.NoError(t, err)
	require.NotNil(t, closer)

	l.Debug("hidden")
	l.Info("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=written")
	assert.NotContains(t, string(data), "hidden", "unknown level falls back to info")
	assert.Contains(t, stderr.String(), "msg=written")
}
