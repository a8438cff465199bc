package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "monitor", "debug", "json")

	log.Info("started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "monitor", line["component"])
	assert.Equal(t, "started", line["msg"])
	assert.Equal(t, "info", line["level"])
}

func TestNewWithOutput_LevelFallback(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, "x", "nonsense", "text")

	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())

	log.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.NotPanics(t, func() { log.Error("nothing happens") })
}
