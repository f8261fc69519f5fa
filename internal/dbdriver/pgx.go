package dbdriver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// PGXDriver backs Postgres endpoints with jackc/pgx/v5. It replaces the
// hand-rolled startup/SCRAM/MD5 handshake a raw-socket pool would otherwise
// need to implement itself — pgx already negotiates cleartext, MD5, and
// SCRAM-SHA-256 authentication internally.
type PGXDriver struct{}

// *pgx.Conn already satisfies Handle: Close(context.Context) error.
var _ Handle = (*pgx.Conn)(nil)

func (d *PGXDriver) Connect(ctx context.Context, ep *endpoint.Descriptor) (Handle, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=prefer",
		ep.User, ep.Secret, ep.Address(), ep.Database)

	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgx connect: %w", err)
	}
	return conn, nil
}

func (d *PGXDriver) Probe(ctx context.Context, h Handle) (bool, error) {
	conn, ok := h.(*pgx.Conn)
	if !ok {
		return false, fmt.Errorf("pgx probe: handle is not *pgx.Conn")
	}

	var result int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return false, nil
	}
	return result == 1, nil
}
