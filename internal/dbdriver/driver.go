// Package dbdriver defines the narrow collaborator contract the pool
// expects from a concrete database driver (spec.md §6), plus the concrete
// adapters the pool is tested against. The pool never depends on
// pgx or database/sql directly — only on this interface — so swapping the
// backing driver never touches pool.go.
package dbdriver

import (
	"context"

	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// Handle is an opaque, identity-stable reference to one live driver
// connection. Two references to the same underlying connection must
// compare equal with ==; the pool relies on this for Release (spec.md §4.4
// "Identification is by handle-identity").
type Handle interface {
	// Close releases the underlying connection. Called by the pool only
	// when the slot owning this handle is evicted or closed.
	Close(ctx context.Context) error
}

// Driver is the collaborator contract from spec.md §6: connect and a
// minimal probe query. Transaction primitives are deliberately absent —
// those belong to the caller's closure, never to the pool or the driver
// adapter.
type Driver interface {
	// Connect establishes one new physical connection to ep.
	Connect(ctx context.Context, ep *endpoint.Descriptor) (Handle, error)

	// Probe runs a minimal query ("SELECT 1") against an established
	// handle and reports whether the driver accepted it and returned the
	// expected scalar. A returned error means the probe itself failed to
	// execute (treated the same as a false result by callers); it is
	// never wrapped into the pool's own error taxonomy.
	Probe(ctx context.Context, h Handle) (bool, error)
}

// ForScheme returns the Driver adapter appropriate for ep.Scheme.
func ForScheme(s endpoint.Scheme) (Driver, error) {
	switch s {
	case endpoint.SchemePostgres:
		return &PGXDriver{}, nil
	case endpoint.SchemeMySQL:
		return &MySQLDriver{}, nil
	default:
		return nil, &UnsupportedSchemeError{Scheme: string(s)}
	}
}

// UnsupportedSchemeError is returned by ForScheme for a scheme with no
// adapter. endpoint.Resolve already rejects unrecognized schemes, so this
// only fires if a Descriptor is constructed by hand with a bad value.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return "dbdriver: no adapter for scheme " + e.Scheme
}
