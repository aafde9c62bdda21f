package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Credentials holds what a transport needs to open the account session.
type Credentials struct {
	APIID       int
	APIHash     string
	SessionName string
}

// TransportFunc opens an authenticated session. It returns the client and
// the account's own id.
type TransportFunc func(ctx context.Context, creds Credentials) (Client, int64, error)

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]TransportFunc)
)

// Register makes a transport available under the given name. Transport
// packages call it from init, the same way database drivers register
// themselves; the main package selects one by blank import.
func Register(name string, fn TransportFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	if fn == nil {
		panic("platform: Register transport is nil")
	}
	if _, dup := transports[name]; dup {
		panic("platform: Register called twice for transport " + name)
	}
	transports[name] = fn
}

// Transports returns the names of registered transports, sorted.
func Transports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects through the named transport and returns the session with
// the account id already resolved.
func Open(ctx context.Context, name string, creds Credentials) (*Session, error) {
	transportsMu.RLock()
	fn, ok := transports[name]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("platform: unknown transport %q (registered: %v)", name, Transports())
	}

	client, accountID, err := fn(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("platform: transport %q: %w", name, err)
	}
	return &Session{Client: client, AccountID: accountID}, nil
}
