package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", false)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	log.Warn().Str("peer", "p2").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "p2", line["peer"])
	assert.Contains(t, line, "time")
}

func TestNew_DefaultAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "", false)
	require.NoError(t, err)
	log.Debug().Msg("below info")
	assert.Zero(t, buf.Len())

	_, err = New(&buf, "loud", false)
	assert.Error(t, err)
}
