// Package reach implements the optional pre-connect liveness probe:
// one ICMP echo via the system ping command, optionally preceded by
// an explicit A-record lookup against a configured DNS server so that
// "name does not resolve" is reported as unreachable before any
// packet is sent.
package reach

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// DefaultTimeout is the default echo timeout.
	DefaultTimeout = 3 * time.Second

	// DefaultCount is the default number of echo requests.
	DefaultCount = 1
)

// Checker answers whether a host is reachable. It satisfies
// probe.Pinger.
type Checker struct {
	timeout  time.Duration
	count    int
	resolver string // host:port of a DNS server; empty uses the target name as-is
	client   *dns.Client
}

// Option is a functional option for configuring a Checker.
type Option func(*Checker) error

// WithTimeout sets the echo timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		c.timeout = d
		return nil
	}
}

// WithCount sets the number of echo requests.
func WithCount(n int) Option {
	return func(c *Checker) error {
		if n < 1 {
			return fmt.Errorf("count must be at least 1, got %d", n)
		}
		c.count = n
		return nil
	}
}

// WithResolver makes the checker resolve host names itself against
// the given DNS server (host:port) instead of leaving resolution to
// the ping command.
func WithResolver(server string) Option {
	return func(c *Checker) error {
		if server == "" {
			return fmt.Errorf("resolver must not be empty")
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		c.resolver = server
		return nil
	}
}

// New creates a Checker.
func New(opts ...Option) (*Checker, error) {
	c := &Checker{
		timeout: DefaultTimeout,
		count:   DefaultCount,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("reach: %w", err)
		}
	}

	c.client = &dns.Client{Timeout: c.timeout}
	return c, nil
}

// Ping reports nil when host answers an echo request, or an error
// describing why it is considered unreachable.
func (c *Checker) Ping(ctx context.Context, host string) error {
	target := host
	if c.resolver != "" && net.ParseIP(host) == nil {
		addr, err := c.resolve(ctx, host)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", host, err)
		}
		target = addr
	}

	timeoutSec := fmt.Sprintf("%.0f", c.timeout.Seconds())
	cmd := exec.CommandContext(ctx, "ping", "-c", strconv.Itoa(c.count), "-W", timeoutSec, target)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ping %s: %w", target, err)
	}
	if !strings.Contains(out.String(), "time=") {
		return fmt.Errorf("ping %s: no echo reply", target)
	}
	return nil
}

// resolve looks up the first A record for name against the configured
// server.
func (c *Checker) resolve(ctx context.Context, name string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)

	resp, _, err := c.client.ExchangeContext(ctx, msg, c.resolver)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("server %s returned %s", c.resolver, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %s", name)
}
