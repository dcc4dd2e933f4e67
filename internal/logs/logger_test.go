package logs

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, logrus.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("panic"))
}

func TestInit_JSON(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	var buf bytes.Buffer
	Init(Options{Level: "info", Format: "json", Output: &buf})
	Logger.WithField("account", "acc-1").Info("login ok")
	Logger.Debug("hidden")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "login ok", line["message"])
	assert.Equal(t, "acc-1", line["account"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestInit_File(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	prefix := filepath.Join(t.TempDir(), "shepherd")
	var buf bytes.Buffer
	Init(Options{File: prefix, Output: &buf})
	Logger.Info("to both")

	matches, err := filepath.Glob(prefix + "_*.log")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "to both")
	assert.Contains(t, buf.String(), "to both")
}

func TestInit_BadFileFallsBack(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	var buf bytes.Buffer
	Init(Options{File: filepath.Join(t.TempDir(), "missing", "dir", "log"), Output: &buf})
	Logger.Info("still here")
	assert.Contains(t, buf.String(), "log file unavailable")
	assert.Contains(t, buf.String(), "still here")
}
