package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenchrcum/forensic-carver/internal/config"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(config.TracingConfig{Enabled: false}, "forensic-carver", "run-1")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_StdoutExporter(t *testing.T) {
	shutdown, err := Setup(config.TracingConfig{Enabled: true, Exporter: "stdout"}, "forensic-carver", "run-1")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_UnknownExporterIsRejected(t *testing.T) {
	_, err := Setup(config.TracingConfig{Enabled: true, Exporter: "zipkin"}, "forensic-carver", "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown exporter")
}
