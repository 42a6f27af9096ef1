package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvironmentDefaults(t *testing.T) {
	t.Setenv("HOSTNAME", "")
	env, err := LoadEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "demosvc", env.ServiceName)
	assert.Equal(t, "demosvc", env.InstanceName)
	assert.Equal(t, ExporterLog, env.Exporter)
	assert.Empty(t, env.ZipkinEndpoint)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("TRACELINK_SERVICE_NAME", "checkout")
	t.Setenv("TRACELINK_EXPORTER", ExporterZipkin)
	t.Setenv("TRACELINK_ZIPKIN_ENDPOINT", "http://zipkin:9411/api/v2/spans")
	t.Setenv("TRACELINK_ZIPKIN_TOKEN", "secret")
	t.Setenv("HOSTNAME", "checkout-7d9f")

	env, err := LoadEnvironment()
	require.NoError(t, err)
	assert.Equal(t, "checkout", env.ServiceName)
	assert.Equal(t, "checkout-7d9f", env.InstanceName)
	assert.Equal(t, ExporterZipkin, env.Exporter)
	assert.Equal(t, "http://zipkin:9411/api/v2/spans", env.ZipkinEndpoint)
	assert.Equal(t, "secret", env.ZipkinToken)
}
