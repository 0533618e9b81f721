package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/c3-chat/backend/internal/config"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf), "turn")

	logger.Debug().Str("thread_id", "t1").Msg("model called")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "turn", entry["component"])
	assert.Equal(t, "t1", entry["thread_id"])
	assert.Equal(t, "c3-chat", entry["service"])
}

func TestNewWithWriterUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "chatty"}, &buf)

	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
