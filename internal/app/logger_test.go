package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json"})
	logger.Info("boot")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "boot", entry["msg"])
	require.Equal(t, "meridian", entry["service"])
}

func TestLoggerPrettyFormatByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "pretty", AppEnv: "development"})
	logger.Info("boot")

	require.Contains(t, buf.String(), "msg=boot")
	require.Contains(t, buf.String(), "service=meridian")
}

func TestLoggerProductionForcesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "pretty", AppEnv: "production"})
	logger.Info("boot")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "boot", entry["msg"])
}
