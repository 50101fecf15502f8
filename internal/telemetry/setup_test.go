package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/voice-load-test/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, config.AppConfig{Name: "voice-load-test"}, "agent")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestServiceAttributes(t *testing.T) {
	attrs := serviceAttributes(config.TelemetryConfig{}, config.AppConfig{Name: "voice-load-test", Env: "staging"}, "recorder")

	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, map[string]string{
		"service.name":           "voice-load-test-recorder",
		"service.version":        "dev",
		"deployment.environment": "staging",
	}, got)
}

func TestSampleRatio(t *testing.T) {
	assert.Equal(t, 1.0, sampleRatio(0))
	assert.Equal(t, 1.0, sampleRatio(3))
	assert.Equal(t, 0.25, sampleRatio(0.25))
}
