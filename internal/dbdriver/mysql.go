package dbdriver

import (
	"context"
	"database/sql"
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/hobansearch/tonsurance-dbpool/internal/endpoint"
)

// MySQLDriver backs MySQL endpoints with database/sql over
// go-sql-driver/mysql. Each Handle wraps a *sql.DB capped at one open
// connection, so from the pool's point of view it behaves like a single
// physical connection even though database/sql owns the socket.
type MySQLDriver struct{}

type mysqlHandle struct {
	db *sql.DB
}

func (h *mysqlHandle) Close(ctx context.Context) error {
	return h.db.Close()
}

var _ Handle = (*mysqlHandle)(nil)

func (d *MySQLDriver) Connect(ctx context.Context, ep *endpoint.Descriptor) (Handle, error) {
	cfg := mysqldriver.NewConfig()
	cfg.User = ep.User
	cfg.Passwd = ep.Secret
	cfg.Net = "tcp"
	cfg.Addr = ep.Address()
	cfg.DBName = ep.Database
	cfg.ParseTime = true

	connector, err := mysqldriver.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql connect: %w", err)
	}

	return &mysqlHandle{db: db}, nil
}

func (d *MySQLDriver) Probe(ctx context.Context, h Handle) (bool, error) {
	mh, ok := h.(*mysqlHandle)
	if !ok {
		return false, fmt.Errorf("mysql probe: handle is not *mysqlHandle")
	}

	var result int
	if err := mh.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false, nil
	}
	return result == 1, nil
}
