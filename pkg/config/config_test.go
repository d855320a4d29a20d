package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/apm-demo/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, "apm-demo", cfg.ServiceName)
	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Equal(t, time.Second, cfg.HTTP.SlowDelay)
	assert.Equal(t, ":9464", cfg.Admin.Addr)
	assert.Equal(t, "/debug/apm", cfg.Admin.DebugPath)
	assert.Equal(t, "http://localhost:4317", cfg.Exporter.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Exporter.Protocol)
	assert.Equal(t, time.Second, cfg.Exporter.PushInterval)
	assert.Equal(t, 10*time.Second, cfg.Shutdown.DrainPeriod)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APM_EXPORTER_ENDPOINT", "http://collector.internal:4317")
	t.Setenv("APM_EXPORTER_PUSH_INTERVAL", "250ms")
	t.Setenv("APM_HTTP_SLOW_DELAY", "2s")
	t.Setenv("APM_TRACING_ENABLED", "true")

	cfg, err := Load(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, "http://collector.internal:4317", cfg.Exporter.Endpoint)
	assert.Equal(t, 250*time.Millisecond, cfg.Exporter.PushInterval)
	assert.Equal(t, 2*time.Second, cfg.HTTP.SlowDelay)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_YAMLFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
service_name: checkout
exporter:
  endpoint: otel-collector:4318
  protocol: http/protobuf
  headers:
    x-team: demo
shutdown:
  drain_period: 1s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	flags := Flags("test")
	require.NoError(t, flags.Parse([]string{"--http-addr", "127.0.0.1:8080"}))

	cfg, err := Load(dir, flags)
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.ServiceName)
	assert.Equal(t, "otel-collector:4318", cfg.Exporter.Endpoint)
	assert.Equal(t, ProtocolHTTPProtobuf, cfg.Exporter.Protocol)
	assert.Equal(t, "demo", cfg.Exporter.Headers["x-team"])
	assert.Equal(t, time.Second, cfg.Shutdown.DrainPeriod)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Addr)
}

func TestLoad_InvalidConfigurationIsConfigurationError(t *testing.T) {
	testCases := []struct {
		name  string
		env   string
		value string
		field string
	}{
		{"malformed endpoint", "APM_EXPORTER_ENDPOINT", "http://bad host:4317", "exporter.endpoint"},
		{"bad scheme", "APM_EXPORTER_ENDPOINT", "ftp://collector:4317", "exporter.endpoint"},
		{"bad port", "APM_EXPORTER_ENDPOINT", "collector:99999", "exporter.endpoint"},
		{"unknown protocol", "APM_EXPORTER_PROTOCOL", "udp", "exporter.protocol"},
		{"zero push interval", "APM_EXPORTER_PUSH_INTERVAL", "0s", "exporter.push_interval"},
		{"sample ratio", "APM_TRACING_SAMPLE_RATIO", "1.5", "tracing.sample_ratio"},
		{"relative debug path", "APM_ADMIN_DEBUG_PATH", "debug", "admin.debug_path"},
		{"debug path on metrics", "APM_ADMIN_DEBUG_PATH", "/metrics", "admin.debug_path"},
		{"debug path on healthz", "APM_ADMIN_DEBUG_PATH", "/healthz", "admin.debug_path"},
		{"debug path wildcard", "APM_ADMIN_DEBUG_PATH", "/debug/{id}", "admin.debug_path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.value)

			_, err := Load(t.TempDir(), nil)
			require.Error(t, err)

			var cfgErr *domain.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	testCases := []struct {
		name     string
		raw      string
		protocol string
		want     string
	}{
		{"full url", "http://ams.internal:4317", ProtocolGRPC, "http://ams.internal:4317"},
		{"bare host port", "collector:4317", ProtocolGRPC, "http://collector:4317"},
		{"default grpc port", "collector", ProtocolGRPC, "http://collector:4317"},
		{"default http port", "https://collector", ProtocolHTTPProtobuf, "https://collector:4318"},
		{"ipv6", "http://[::1]:4317", ProtocolGRPC, "http://[::1]:4317"},
		{"keeps path", "http://collector:4318/otlp/v1/metrics", ProtocolHTTPProtobuf, "http://collector:4318/otlp/v1/metrics"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := ParseEndpoint(tc.raw, tc.protocol)
			require.NoError(t, err)
			assert.Equal(t, tc.want, u.String())
		})
	}

	_, err := ParseEndpoint("", ProtocolGRPC)
	assert.Error(t, err)
}
