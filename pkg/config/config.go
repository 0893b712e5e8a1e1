// Package config loads the YAML run configuration for a probe sweep:
// the target list, per-host credential and transport overrides, and
// fan-out tuning.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jmharte/secprobe/pkg/probe"
	"github.com/jmharte/secprobe/pkg/transport"
	"gopkg.in/yaml.v3"
)

// Config is the top-level run configuration.
type Config struct {
	// Defaults apply to every host entry that does not override them.
	Defaults HostConfig `yaml:"defaults"`

	Hosts []HostConfig `yaml:"hosts"`

	Sweep SweepConfig `yaml:"sweep"`

	// Transport tunes the transport endpoints for the whole sweep.
	Transport TransportConfig `yaml:"transport_options"`

	// Resolver is an optional DNS server (host or host:port) used by
	// the reachability check to resolve target names explicitly.
	Resolver string `yaml:"resolver"`
}

// TransportConfig tunes transport endpoints sweep-wide.
type TransportConfig struct {
	// Port overrides the wsman listener port.
	Port int `yaml:"port"`

	// TLS selects the encrypted wsman endpoint.
	TLS bool `yaml:"tls"`
}

// HostConfig describes one target, or the sweep-wide defaults.
type HostConfig struct {
	Host      string `yaml:"host"`
	Transport string `yaml:"transport"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// PasswordEnv names an environment variable to read the password
	// from, so config files do not need to carry secrets.
	PasswordEnv string `yaml:"password_env"`

	CheckReachability *bool `yaml:"check_reachability"`

	TimeoutMs int `yaml:"timeout_ms"`
}

// SweepConfig tunes the fan-out.
type SweepConfig struct {
	Workers       int     `yaml:"workers"`
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Sweep defaults.
const (
	DefaultWorkers   = 8
	DefaultTimeoutMs = 30000
)

// Load reads, normalizes and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("could not parse config %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// normalize fills per-host gaps from Defaults and applies built-in
// fallbacks.
func (c *Config) normalize() {
	if c.Defaults.Transport == "" {
		c.Defaults.Transport = string(transport.DefaultKind)
	}
	if c.Defaults.TimeoutMs == 0 {
		c.Defaults.TimeoutMs = DefaultTimeoutMs
	}

	for i := range c.Hosts {
		h := &c.Hosts[i]
		if h.Transport == "" {
			h.Transport = c.Defaults.Transport
		}
		if h.Username == "" {
			h.Username = c.Defaults.Username
			if h.Password == "" {
				h.Password = c.Defaults.Password
			}
			if h.PasswordEnv == "" {
				h.PasswordEnv = c.Defaults.PasswordEnv
			}
		}
		if h.CheckReachability == nil {
			h.CheckReachability = c.Defaults.CheckReachability
		}
		if h.TimeoutMs == 0 {
			h.TimeoutMs = c.Defaults.TimeoutMs
		}
	}

	if c.Sweep.Workers == 0 {
		c.Sweep.Workers = DefaultWorkers
	}
	if c.Sweep.RatePerSecond > 0 && c.Sweep.Burst == 0 {
		c.Sweep.Burst = 1
	}
}

// Timeout returns the per-host round-trip bound.
func (h *HostConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// TransportOptions builds the sweep-wide transport tuning. Per-host
// timeouts ride along in each target's Params instead.
func (c *Config) TransportOptions() transport.Options {
	return transport.Options{
		Timeout: c.Defaults.Timeout(),
		Port:    c.Transport.Port,
		TLS:     c.Transport.TLS,
	}
}

// params builds the probe parameters for one host entry.
func (h *HostConfig) params() (probe.Params, error) {
	p := probe.Params{
		Host:      h.Host,
		Transport: transport.Kind(h.Transport),
		Timeout:   h.Timeout(),
	}
	if h.CheckReachability != nil {
		p.CheckReachability = *h.CheckReachability
	}

	password := h.Password
	if h.PasswordEnv != "" {
		password = os.Getenv(h.PasswordEnv)
		if password == "" {
			return probe.Params{}, fmt.Errorf("host %s: environment variable %s is empty", h.Host, h.PasswordEnv)
		}
	}
	if h.Username != "" {
		p.Credentials = &transport.Credentials{
			Username: h.Username,
			Password: password,
		}
	}
	return p, nil
}

// Targets builds the probe parameter list for every configured host.
func (c *Config) Targets() ([]probe.Params, error) {
	targets := make([]probe.Params, 0, len(c.Hosts))
	for i := range c.Hosts {
		p, err := c.Hosts[i].params()
		if err != nil {
			return nil, err
		}
		targets = append(targets, p)
	}
	return targets, nil
}
