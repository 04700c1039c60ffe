package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggerCarriesName(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "debug", Output: &buf})

	log := Component("player")
	log.Info().Str("tenant", "g1").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "player", entry["component"])
	assert.Equal(t, "g1", entry["tenant"])
	assert.Equal(t, "hello", entry["message"])
}

func TestSetupIgnoresBadLevel(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "loud", Output: &buf})

	log := Component("x")
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
