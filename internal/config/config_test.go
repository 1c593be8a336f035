package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/bandwidth-intent-controller/internal/alloc"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intentctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8181/onos/v1", cfg.Controller.BaseURL)
	assert.Equal(t, "onos", cfg.Controller.Username)
	assert.Equal(t, 10*time.Second, cfg.Controller.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Loop.PollInterval)
	assert.Equal(t, "kshortest", cfg.Allocator.Strategy)
	assert.Equal(t, 3, cfg.Allocator.HopDiff)
	assert.Equal(t, 10, cfg.Allocator.MaxPaths)
	assert.Equal(t, 64, cfg.Allocator.MaxCandidates)
	assert.Equal(t, int64(10), cfg.Allocator.DefaultLinkCapacity)
	assert.Equal(t, 40001, cfg.Flows.Priority)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)

	assert.Equal(t, alloc.DefaultConfig(), cfg.Alloc())
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeFile(t, `
controller:
  base_url: http://onos.lab:8181/onos/v1
  requests_per_second: 20
  burst: 5
loop:
  poll_interval: 2s
allocator:
  strategy: hop
  max_paths: 4
logging:
  format: json
`)
	t.Setenv("INTENTCTL_ALLOCATOR_STRATEGY", "hop-strict")
	t.Setenv("INTENTCTL_CONTROLLER_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://onos.lab:8181/onos/v1", cfg.Controller.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Loop.PollInterval)
	assert.Equal(t, "hop-strict", cfg.Allocator.Strategy, "environment wins over the file")
	assert.Equal(t, 4, cfg.Allocator.MaxPaths)
	assert.Equal(t, "json", cfg.Logging.Format)

	oc := cfg.ONOS()
	assert.Equal(t, "secret", oc.Password)
	assert.Equal(t, 20.0, oc.RequestsPerSecond)
	assert.Equal(t, 5, oc.Burst)
	assert.Equal(t, alloc.StrategyHopStrict, cfg.Alloc().Strategy)
	assert.Equal(t, 2*time.Second, cfg.LoopSettings().PollInterval)
	assert.Equal(t, "json", cfg.Log().Format)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"strategy", "allocator:\n  strategy: widest\n", "Strategy"},
		{"poll interval", "loop:\n  poll_interval: 0s\n", "PollInterval"},
		{"base url", "controller:\n  base_url: not a url\n", "BaseURL"},
		{"sample ratio", "tracing:\n  sample_ratio: 2\n", "SampleRatio"},
		{"metrics addr", "metrics:\n  addr: nope\n", "Addr"},
		{"otlp endpoint", "tracing:\n  enabled: true\n  exporter: otlp\n", "tracing.endpoint"},
		{"shutdown timeout", "loop:\n  shutdown_timeout: 1s\n", "shutdown_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTraceSettings(t *testing.T) {
	path := writeFile(t, "tracing:\n  enabled: true\n  exporter: otlp\n  endpoint: collector:4317\n  sample_ratio: 0.5\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	tc := cfg.Trace()
	assert.True(t, tc.Enabled)
	assert.Equal(t, "collector:4317", tc.Endpoint)
	assert.Equal(t, 0.5, tc.SampleRatio)
	assert.Equal(t, "intentctl", tc.ServiceName)
}
