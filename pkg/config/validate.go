package config

import (
	"fmt"

	"github.com/jmharte/secprobe/pkg/transport"
)

// Validate checks a normalized configuration.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return fmt.Errorf("no hosts configured")
	}

	seen := make(map[string]bool, len(c.Hosts))
	for i := range c.Hosts {
		h := &c.Hosts[i]
		if h.Host == "" {
			return fmt.Errorf("hosts[%d]: host must not be empty", i)
		}
		if seen[h.Host] {
			return fmt.Errorf("hosts[%d]: duplicate host %q", i, h.Host)
		}
		seen[h.Host] = true

		switch transport.Kind(h.Transport) {
		case transport.KindDCOM, transport.KindWSMan:
		default:
			return fmt.Errorf("hosts[%d]: unknown transport %q", i, h.Transport)
		}

		if h.Password != "" && h.PasswordEnv != "" {
			return fmt.Errorf("hosts[%d]: password and password_env are mutually exclusive", i)
		}
		if h.TimeoutMs < 0 {
			return fmt.Errorf("hosts[%d]: timeout_ms must not be negative", i)
		}
	}

	if c.Transport.Port < 0 || c.Transport.Port > 65535 {
		return fmt.Errorf("transport_options: port %d out of range", c.Transport.Port)
	}

	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep: workers must be at least 1, got %d", c.Sweep.Workers)
	}
	if c.Sweep.RatePerSecond < 0 {
		return fmt.Errorf("sweep: rate_per_second must not be negative")
	}
	if c.Sweep.RatePerSecond > 0 && c.Sweep.Burst < 1 {
		return fmt.Errorf("sweep: burst must be at least 1 when rate limiting")
	}
	return nil
}
