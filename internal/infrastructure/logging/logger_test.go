package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewModes(t *testing.T) {
	for _, dev := range []bool{false, true} {
		logger, err := New(Config{Level: "debug", Development: dev, OutputPaths: []string{"stderr"}})
		require.NoError(t, err)
		assert.NotNil(t, logger.Logger)
	}
	assert.NotNil(t, NewNop().Logger)
}

func TestForModuleAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info")

	logger.ForModule("catalog", "github").Info("hello")
	require.NoError(t, logger.Sync())

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record))

	assert.Equal(t, "hello", record["message"])
	assert.Equal(t, "catalog", record["plugin"])
	assert.Equal(t, "github", record["module"])
	assert.Equal(t, "catalog", record["logger"])
}

func TestNewWriterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
