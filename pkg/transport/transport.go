// Package transport defines the session abstraction the probe runs its
// queries through.
//
// A Session represents one authenticated connection to a remote host
// over a structured-management protocol. Two transports are provided
// as subpackages: dcom (legacy WMI over DCOM, Windows hosts probing
// from Windows) and wsman (WS-Management via WinRM, usable from any
// platform). Both expose the same two operations: a class instance
// query against a CIM namespace, and a DWORD read from the target's
// local-machine registry hive.
//
// Transports register an Opener with a Registry under their Kind, so
// the caller selects the protocol by name and tests can substitute a
// fake session returning canned results.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind identifies a registered transport.
type Kind string

const (
	// KindDCOM is the legacy RPC-style transport (WMI over DCOM).
	// It is the default for backward compatibility with older targets.
	KindDCOM Kind = "dcom"

	// KindWSMan is the web-services transport (WinRM / WS-Management).
	KindWSMan Kind = "wsman"
)

// DefaultKind is used when the caller does not select a transport.
const DefaultKind = KindDCOM

// Credentials identifies a privileged account on the target.
// A nil *Credentials means the caller's ambient identity.
type Credentials struct {
	Username string
	Password string
}

// Options carries transport tuning that is not part of the session
// contract itself.
type Options struct {
	// Timeout bounds each round-trip to the target. Zero means the
	// transport's default.
	Timeout time.Duration

	// Port overrides the transport's default port (wsman only).
	Port int

	// TLS selects an encrypted endpoint where the transport
	// distinguishes one (wsman only).
	TLS bool

	// Logger receives transport diagnostics. Nil falls back to the
	// standard logrus logger.
	Logger logrus.FieldLogger
}

// DefaultTimeout is applied when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Object is one instance returned by a class query: property name to
// raw value. Values keep whatever shape the transport produced; use
// the As* coercion helpers to read them.
type Object map[string]any

// Session is one authenticated connection to a single host. It is
// owned by the probe invocation that opened it and must be closed
// exactly once. Implementations must make Close safe to call more
// than once.
type Session interface {
	// Query returns the named fields of every instance of class in
	// the given CIM namespace.
	Query(ctx context.Context, namespace, class string, fields []string) ([]Object, error)

	// RegValue reads a DWORD value under the local-machine hive by
	// full key path (backslash-separated, no hive prefix) and value
	// name.
	RegValue(ctx context.Context, path, name string) (uint32, error)

	Close() error
}

// Opener establishes a Session to host. creds may be nil (ambient
// identity). Opening must fail, not defer the failure to the first
// query, when the target rejects authentication.
type Opener func(ctx context.Context, host string, creds *Credentials, opts Options) (Session, error)

// ConnectError is the fatal tier: session establishment failed and no
// record can be produced. It wraps the underlying transport
// diagnostic so callers can tell "host down" from "authentication
// rejected".
type ConnectError struct {
	Host string
	Kind Kind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s via %s: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CIM status codes the collector cares about.
const (
	// CodeInvalidNamespace (WBEM_E_INVALID_NAMESPACE) is returned
	// when the queried namespace does not exist on the target, e.g.
	// the Defender namespace on a host without the feature.
	CodeInvalidNamespace uint32 = 0x8004100E

	// CodeInvalidClass (WBEM_E_INVALID_CLASS) is returned when the
	// namespace exists but the provider class does not.
	CodeInvalidClass uint32 = 0x80041010

	// CodeNotFound (WBEM_E_NOT_FOUND) is returned for missing
	// registry keys and values through StdRegProv.
	CodeNotFound uint32 = 0x80041002
)

// QueryError is a failed query or registry read. Code is the raw CIM
// status code when the transport could extract one, zero otherwise.
type QueryError struct {
	Namespace string
	Class     string
	Code      uint32
	Err       error
}

func (e *QueryError) Error() string {
	where := e.Class
	if e.Namespace != "" {
		where = e.Namespace + ":" + e.Class
	}
	if e.Code != 0 {
		return fmt.Sprintf("query %s: 0x%08X: %v", where, e.Code, e.Err)
	}
	return fmt.Sprintf("query %s: %v", where, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// NotInstalled reports whether err indicates the queried subsystem is
// absent from the target rather than failing: the namespace or class
// does not exist.
func NotInstalled(err error) bool {
	var qe *QueryError
	if !errors.As(err, &qe) {
		return false
	}
	return qe.Code == CodeInvalidNamespace || qe.Code == CodeInvalidClass
}
