package transport

import (
	"context"
	"fmt"
	"sync"
)

// Registry holds registered transport openers. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	openers map[Kind]Opener
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		openers: make(map[Kind]Opener),
	}
}

// Register adds an opener under the given kind.
// Returns an error if the kind is already registered.
func (r *Registry) Register(kind Kind, opener Opener) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.openers[kind]; exists {
		return fmt.Errorf("transport %q is already registered", kind)
	}
	r.openers[kind] = opener
	return nil
}

// Open establishes a session to host using the transport registered
// under kind. An unknown kind is a *ConnectError: the caller selected
// a transport this build cannot provide.
func (r *Registry) Open(ctx context.Context, kind Kind, host string, creds *Credentials, opts Options) (Session, error) {
	r.mu.RLock()
	opener, exists := r.openers[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, &ConnectError{Host: host, Kind: kind, Err: fmt.Errorf("unsupported transport %q", kind)}
	}
	return opener(ctx, host, creds, opts)
}

// Kinds returns the names of all registered transports.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.openers))
	for k := range r.openers {
		kinds = append(kinds, k)
	}
	return kinds
}
