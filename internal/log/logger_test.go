package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NonPrettyEmitsOneJSONLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false, 0, &buf)
	logger.Info().Str("symbol", "BTC/USDT").Msg("hello")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "hello", decoded["message"])
	assert.Equal(t, "BTC/USDT", decoded["symbol"])
}

func TestLevelFor_MapsVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, levelFor(0))
	assert.Equal(t, zerolog.DebugLevel, levelFor(1))
	assert.Equal(t, zerolog.TraceLevel, levelFor(2))
	assert.Equal(t, zerolog.TraceLevel, levelFor(5))
}

func TestNew_DebugEventsSuppressedAtDefaultVerbosity(t *testing.T) {
	var buf bytes.Buffer
	logger := New(false, 0, &buf)
	logger.Debug().Msg("should not appear")
	assert.Empty(t, buf.String())
}
