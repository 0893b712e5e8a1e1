// Package probe implements the remote security-status probe: open an
// authenticated management session to one host, run a fixed read-only
// query plan (antimalware engine state, security-product
// registrations, firewall policy), and return one aggregated Record.
//
// Only session establishment is fatal. Once a session is open the
// collector degrades per query: a failed sub-query leaves its fields
// unknown and the probe carries on. The session is released on every
// exit path.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/jmharte/secprobe/pkg/transport"
	"github.com/sirupsen/logrus"
)

// Params describes one probe invocation.
type Params struct {
	// Host is the target to probe. Must not be empty.
	Host string

	// Credentials for the target; nil uses the caller's ambient
	// identity where the transport supports it.
	Credentials *transport.Credentials

	// Transport selects the management protocol. Empty means
	// transport.DefaultKind.
	Transport transport.Kind

	// CheckReachability, when true, requires the host to answer a
	// liveness probe before any connection is attempted. When false
	// the check is skipped silently.
	CheckReachability bool

	// Timeout overrides the prober's round-trip bound for this
	// invocation only. Zero keeps the prober's setting.
	Timeout time.Duration
}

// UnreachableError is returned when the requested liveness probe
// failed. No session was attempted and no record produced.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Pinger answers whether a host is reachable. Implemented by
// reach.Checker; tests substitute their own.
type Pinger interface {
	Ping(ctx context.Context, host string) error
}

// Prober opens sessions and runs the collector. One Prober may be
// shared across invocations and goroutines; each invocation gets its
// own session, never shared or pooled.
type Prober struct {
	transports *transport.Registry
	pinger     Pinger
	opts       transport.Options
	log        logrus.FieldLogger
	collector  *Collector
}

// Option is a functional option for configuring a Prober.
type Option func(*Prober) error

// WithPinger sets the liveness checker used when
// Params.CheckReachability is requested.
func WithPinger(p Pinger) Option {
	return func(pr *Prober) error {
		if p == nil {
			return fmt.Errorf("pinger must not be nil")
		}
		pr.pinger = p
		return nil
	}
}

// WithLogger sets the logger. Defaults to the standard logrus logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(pr *Prober) error {
		if log == nil {
			return fmt.Errorf("logger must not be nil")
		}
		pr.log = log
		return nil
	}
}

// WithTimeout bounds each transport round-trip.
func WithTimeout(d time.Duration) Option {
	return func(pr *Prober) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", d)
		}
		pr.opts.Timeout = d
		return nil
	}
}

// WithTransportOptions replaces the transport tuning wholesale.
func WithTransportOptions(opts transport.Options) Option {
	return func(pr *Prober) error {
		pr.opts = opts
		return nil
	}
}

// New creates a Prober that opens sessions through transports.
func New(transports *transport.Registry, opts ...Option) (*Prober, error) {
	if transports == nil {
		return nil, fmt.Errorf("probe: transport registry must not be nil")
	}

	p := &Prober{
		transports: transports,
		log:        logrus.StandardLogger(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
	}

	p.collector = NewCollector(p.log)
	return p, nil
}

// Run probes one host and returns its record.
//
// Fatal outcomes (nil record, typed error): *UnreachableError when
// the requested liveness probe fails, *transport.ConnectError when
// session establishment fails. Everything past a successful open is
// recoverable: the record comes back with unknown fields instead.
func (p *Prober) Run(ctx context.Context, params Params) (*Record, error) {
	if params.Host == "" {
		return nil, fmt.Errorf("probe: host must not be empty")
	}
	kind := params.Transport
	if kind == "" {
		kind = transport.DefaultKind
	}

	log := p.log.WithField("host", params.Host)

	if params.CheckReachability {
		if p.pinger == nil {
			return nil, fmt.Errorf("probe: reachability check requested but no pinger configured")
		}
		if err := p.pinger.Ping(ctx, params.Host); err != nil {
			log.WithError(err).Debug("liveness probe failed")
			return nil, &UnreachableError{Host: params.Host, Err: err}
		}
	}

	opts := p.opts
	if opts.Logger == nil {
		opts.Logger = p.log
	}
	if params.Timeout > 0 {
		opts.Timeout = params.Timeout
	}

	sess, err := p.transports.Open(ctx, kind, params.Host, params.Credentials, opts)
	if err != nil {
		log.WithError(err).Debug("session open failed")
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.WithError(cerr).Debug("session close failed")
		}
	}()

	return p.collector.Collect(ctx, sess, params.Host), nil
}
