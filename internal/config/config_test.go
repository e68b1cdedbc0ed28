package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.System.LogLevel)
	assert.Equal(t, "systemd-networkd", cfg.System.Backend)
	assert.True(t, cfg.Backends.SystemdNetworkd.EmitJSON)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().System, cfg.System)
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netevd.yaml")
	yaml := `
system:
  log_level: debug
  backend: NetworkManager
monitoring:
  interfaces: [eth0, eth1]
routing:
  policy_rules: [eth1]
backends:
  systemd_networkd:
    emit_json: false
  dhclient:
    use_dns: true
filters:
  - match_rule:
      interface_pattern: "docker*"
    action: ignore
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.System.LogLevel)
	assert.Equal(t, "NetworkManager", cfg.System.Backend)
	assert.Equal(t, []string{"eth0", "eth1"}, cfg.Monitoring.Interfaces)
	assert.True(t, cfg.Backends.Dhclient.UseDNS)
	require.Len(t, cfg.Filters, 1)
	assert.Equal(t, "ignore", cfg.Filters[0].Action)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netevd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system:\n  log_level: verbose\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestShouldMonitor_EmptyMeansAll(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.ShouldMonitor("eth0"))
	assert.True(t, cfg.ShouldMonitor("wlan0"))
}

func TestShouldMonitor_Explicit(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.Interfaces = []string{"eth0"}
	assert.True(t, cfg.ShouldMonitor("eth0"))
	assert.False(t, cfg.ShouldMonitor("eth1"))
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	ApplyEnvOverrides(cfg, []string{
		"NETEVD_SYSTEM_LOG_LEVEL=warn",
		"NETEVD_SYSTEM_BACKEND=dhclient",
		"NETEVD_BACKENDS_DHCLIENT_USE_DNS=true",
		"NETEVD_MONITORING_INTERFACES=eth0 eth1",
	})
	assert.Equal(t, "warn", cfg.System.LogLevel)
	assert.Equal(t, "dhclient", cfg.System.Backend)
	assert.True(t, cfg.Backends.Dhclient.UseDNS)
	assert.Equal(t, []string{"eth0", "eth1"}, cfg.Monitoring.Interfaces)
}
