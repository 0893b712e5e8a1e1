// Package dcom implements the legacy RPC-style transport: WMI over
// DCOM through the Windows COM runtime (SWbemLocator.ConnectServer).
// It is the default transport for backward compatibility with targets
// that predate WinRM, and it is the only transport that supports the
// caller's ambient identity (nil credentials).
//
// The implementation only exists on Windows probing hosts; elsewhere
// Open fails with a *transport.ConnectError directing callers to the
// wsman transport.
package dcom

import "github.com/jmharte/secprobe/pkg/transport"

// Kind is the transport's registry name.
const Kind = transport.KindDCOM
