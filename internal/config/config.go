// Package config loads and validates netevd's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"netevd/internal/validation"
)

// Config is the top-level configuration document.
type Config struct {
	System     SystemConfig          `yaml:"system"`
	Monitoring MonitoringConfig      `yaml:"monitoring"`
	Routing    RoutingConfig         `yaml:"routing"`
	Backends   BackendsConfig        `yaml:"backends"`
	Filters    []Filter              `yaml:"filters"`
	API        map[string]any        `yaml:"api"`
	Metrics    map[string]any        `yaml:"metrics"`
	Audit      map[string]any        `yaml:"audit"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
	Backend  string `yaml:"backend"`
}

// MonitoringConfig controls which interfaces are observed.
type MonitoringConfig struct {
	Interfaces []string `yaml:"interfaces"`
}

// RoutingConfig names interfaces that receive policy routing rules.
type RoutingConfig struct {
	PolicyRules []string `yaml:"policy_rules"`
}

// BackendsConfig groups per-backend settings.
type BackendsConfig struct {
	SystemdNetworkd SystemdNetworkdConfig `yaml:"systemd_networkd"`
	Dhclient        DhclientConfig        `yaml:"dhclient"`
}

// SystemdNetworkdConfig controls the systemd-networkd manager listener.
type SystemdNetworkdConfig struct {
	EmitJSON bool `yaml:"emit_json"`
}

// DhclientConfig controls what the lease watcher forwards externally.
type DhclientConfig struct {
	UseDNS      bool `yaml:"use_dns"`
	UseDomain   bool `yaml:"use_domain"`
	UseHostname bool `yaml:"use_hostname"`
}

// Filter is one entry of the configured filter chain (spec §4.6/§6).
type Filter struct {
	MatchRule MatchRule `yaml:"match_rule"`
	Action    string    `yaml:"action"`
	Scripts   []string  `yaml:"scripts"`
}

// MatchRule is the conjunction of optional predicates evaluated against an event.
type MatchRule struct {
	Interface        string `yaml:"interface"`
	InterfacePattern string `yaml:"interface_pattern"`
	EventType        string `yaml:"event_type"`
	IPFamily         string `yaml:"ip_family"`
	Backend          string `yaml:"backend"`
	Condition        string `yaml:"condition"`
}

// Valid log levels, backends, filter actions, and ip families per spec §6.
var (
	ValidLogLevels    = []string{"trace", "debug", "info", "warn", "error"}
	ValidBackends     = []string{"systemd-networkd", "NetworkManager", "dhclient"}
	ValidActions      = []string{"execute", "ignore", "log"}
	ValidIPFamilies   = []string{"v4", "v6", "any"}
)

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel: "info",
			Backend:  "systemd-networkd",
		},
		Backends: BackendsConfig{
			SystemdNetworkd: SystemdNetworkdConfig{EmitJSON: true},
		},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// missing field and environment overrides after parse. A missing file is
// not an error: the documented defaults apply (mirrors the original
// source's "use default config if file doesn't exist" behavior).
func Load(path string) (*Config, error) {
	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	ApplyEnvOverrides(cfg, os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the documented closed sets (spec §6). Unknown top-level
// keys are ignored by yaml.Unmarshal already; this only rejects values in
// fields that have a closed vocabulary.
func (c *Config) Validate() error {
	if err := validation.ValidateAllowlist(c.System.LogLevel, ValidLogLevels); err != nil {
		return fmt.Errorf("system.log_level: %w", err)
	}
	if err := validation.ValidateAllowlist(c.System.Backend, ValidBackends); err != nil {
		return fmt.Errorf("system.backend: %w", err)
	}
	for i, f := range c.Filters {
		if err := validation.ValidateAllowlist(f.Action, ValidActions); err != nil {
			return fmt.Errorf("filters[%d].action: %w", i, err)
		}
		if f.MatchRule.IPFamily != "" {
			if err := validation.ValidateAllowlist(f.MatchRule.IPFamily, ValidIPFamilies); err != nil {
				return fmt.Errorf("filters[%d].match_rule.ip_family: %w", i, err)
			}
		}
	}
	return nil
}

// ShouldMonitor reports whether the named interface is in scope. An empty
// Monitoring.Interfaces list means "all interfaces" per spec §6.
func (c *Config) ShouldMonitor(name string) bool {
	if len(c.Monitoring.Interfaces) == 0 {
		return true
	}
	return contains(c.Monitoring.Interfaces, name)
}

// HasRoutingPolicy reports whether the named interface receives policy
// routing rules per spec §6/§4.8.
func (c *Config) HasRoutingPolicy(name string) bool {
	return contains(c.Routing.PolicyRules, name)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
