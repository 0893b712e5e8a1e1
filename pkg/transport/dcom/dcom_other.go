//go:build !windows

package dcom

import (
	"context"
	"fmt"

	"github.com/jmharte/secprobe/pkg/transport"
)

// Open always fails on non-Windows probing hosts: DCOM needs the
// Windows COM runtime. Use the wsman transport instead.
func Open(_ context.Context, host string, _ *transport.Credentials, _ transport.Options) (transport.Session, error) {
	return nil, &transport.ConnectError{
		Host: host,
		Kind: Kind,
		Err:  fmt.Errorf("dcom transport requires a windows probing host; use wsman"),
	}
}
