package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestSetOutputJSON(t *testing.T) {
	defer SetOutput(os.Stderr, false)
	defer SetLevel(slog.LevelInfo)

	var buf bytes.Buffer
	SetOutput(&buf, true)
	SetLevel(slog.LevelWarn)
	Logger.Info("dropped")
	Logger.Warn("kept", "token", "06000001")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "06000001", rec["token"])
	assert.Equal(t, "WARN", rec["level"])
}

func TestSetOutputText(t *testing.T) {
	defer SetOutput(os.Stderr, false)

	var buf bytes.Buffer
	SetOutput(&buf, false)
	Logger.Info("hello", "n", 3)
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "n=3")
}
