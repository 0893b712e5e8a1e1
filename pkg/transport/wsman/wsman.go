// Package wsman implements the web-services transport: queries run as
// short PowerShell scripts over WinRM, each returning a single JSON
// envelope. Works from any probing platform against WinRM-enabled
// targets.
//
// WinRM has no portable ambient-identity mode, so nil credentials are
// passed through as empty and the target's rejection surfaces from
// Open as a *transport.ConnectError.
package wsman

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jmharte/secprobe/pkg/transport"
	"github.com/masterzen/winrm"
	"github.com/sirupsen/logrus"
)

const (
	// Kind is the transport's registry name.
	Kind = transport.KindWSMan

	// DefaultPort is the WinRM HTTP listener port.
	DefaultPort = 5985

	// DefaultTLSPort is the WinRM HTTPS listener port.
	DefaultTLSPort = 5986
)

type session struct {
	client *winrm.Client
	host   string
	log    logrus.FieldLogger
}

// Open establishes a WinRM session to host and validates it with one
// round-trip, so authentication failures are reported here rather
// than on the first query.
func Open(ctx context.Context, host string, creds *transport.Credentials, opts transport.Options) (transport.Session, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
		if opts.TLS {
			port = DefaultTLSPort
		}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = transport.DefaultTimeout
	}

	var user, pass string
	if creds != nil {
		user = creds.Username
		pass = creds.Password
	}

	var log logrus.FieldLogger = logrus.StandardLogger()
	if opts.Logger != nil {
		log = opts.Logger
	}

	endpoint := winrm.NewEndpoint(host, port, opts.TLS, false, nil, nil, nil, timeout)
	client, err := winrm.NewClient(endpoint, user, pass)
	if err != nil {
		return nil, &transport.ConnectError{Host: host, Kind: Kind, Err: err}
	}

	s := &session{
		client: client,
		host:   host,
		log:    log.WithField("transport", Kind),
	}

	if _, err := s.run(ctx, "exit 0"); err != nil {
		return nil, &transport.ConnectError{Host: host, Kind: Kind, Err: err}
	}
	return s, nil
}

// run executes one command on the target and returns its stdout.
func (s *session) run(ctx context.Context, command string) (string, error) {
	var stdout, stderr bytes.Buffer
	exitCode, err := s.client.RunWithContext(ctx, command, &stdout, &stderr)
	if err != nil {
		return "", fmt.Errorf("winrm %s: %w", s.host, err)
	}
	if stderr.Len() > 0 {
		s.log.WithField("host", s.host).WithField("stderr", stderr.String()).Debug("remote command wrote to stderr")
	}
	if exitCode != 0 {
		return "", fmt.Errorf("winrm %s: remote command exited %d", s.host, exitCode)
	}
	return stdout.String(), nil
}

// runEnvelope runs a script and decodes its JSON envelope, mapping a
// failure envelope to a *transport.QueryError carrying the remote
// status code.
func (s *session) runEnvelope(ctx context.Context, script, namespace, class string) (*envelope, error) {
	out, err := s.run(ctx, winrm.Powershell(script))
	if err != nil {
		return nil, &transport.QueryError{Namespace: namespace, Class: class, Err: err}
	}
	env, err := parseEnvelope(out)
	if err != nil {
		return nil, &transport.QueryError{Namespace: namespace, Class: class, Err: err}
	}
	if !env.OK {
		return nil, &transport.QueryError{
			Namespace: namespace,
			Class:     class,
			Code:      env.statusCode(),
			Err:       fmt.Errorf("%s", env.Message),
		}
	}
	return env, nil
}

func (s *session) Query(ctx context.Context, namespace, class string, fields []string) ([]transport.Object, error) {
	env, err := s.runEnvelope(ctx, queryScript(namespace, class, fields), namespace, class)
	if err != nil {
		return nil, err
	}
	rows, err := env.rows()
	if err != nil {
		return nil, &transport.QueryError{Namespace: namespace, Class: class, Err: err}
	}
	return rows, nil
}

func (s *session) RegValue(ctx context.Context, path, name string) (uint32, error) {
	env, err := s.runEnvelope(ctx, regScript(path, name), "HKLM", path)
	if err != nil {
		return 0, err
	}
	if env.Value == nil {
		return 0, &transport.QueryError{Namespace: "HKLM", Class: path, Err: fmt.Errorf("no value in response")}
	}
	return uint32(*env.Value), nil
}

// Close is a no-op: WinRM runs each command on its own shell, there
// is no connection to tear down. Safe to call any number of times.
func (s *session) Close() error { return nil }
