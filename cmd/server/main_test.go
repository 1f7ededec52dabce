package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nearby/internal/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	l, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&buf, config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)

	_, err = newLogger(&buf, config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	rootCmd.SetArgs([]string{"seed", "--config", t.TempDir() + "/nope.yaml"})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
