package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/hat-ai-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	WithChat(log, "42", "req-1").Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "42", entry["chat_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Contains(t, entry, "timestamp")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewLoggerDefaults(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{})
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Equal(t, os.Stdout, log.Out)
}

func TestNewLoggerRejectsBadSettings(t *testing.T) {
	_, err := NewLogger(&config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)

	_, err = NewLogger(&config.LoggingConfig{Output: "file"})
	assert.Error(t, err)
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")

	_, err := NewLogger(&config.LoggingConfig{Output: "file", File: config.FileConfig{Path: path, MaxSize: 1}})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}
