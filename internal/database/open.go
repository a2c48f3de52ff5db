package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

// Opener acquires a handle for one pipeline step. Callers close it when the
// step is done.
type Opener interface {
	Open(ctx context.Context, src Source) (*sql.DB, error)
}

type SQLOpener struct {
	// ReadOnly asks the driver for a read-only session. File databases are
	// opened read-write otherwise.
	ReadOnly    bool
	PingTimeout time.Duration
}

func (o SQLOpener) Open(ctx context.Context, src Source) (*sql.DB, error) {
	if src.Err != nil {
		return nil, src.Err
	}
	driverName, dsn, err := o.driverDSN(src)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database %q: %w", src.Dialect, src.String(), err)
	}
	// One step, one connection.
	db.SetMaxOpenConns(1)

	timeout := o.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database %q: %w", src.Dialect, src.String(), err)
	}
	return db, nil
}

func (o SQLOpener) driverDSN(src Source) (string, string, error) {
	if strings.TrimSpace(src.DSN) == "" {
		return "", "", fmt.Errorf("database %q has no location", src.String())
	}
	switch src.Dialect {
	case DialectSQLite:
		if o.ReadOnly {
			return "sqlite", "file:" + src.DSN + "?mode=ro", nil
		}
		return "sqlite", src.DSN, nil
	case DialectDuckDB:
		if o.ReadOnly {
			return "duckdb", src.DSN + "?access_mode=read_only", nil
		}
		return "duckdb", src.DSN, nil
	case DialectPostgres:
		if o.ReadOnly {
			dsn, err := withQueryParam(src.DSN, "default_transaction_read_only", "on")
			if err != nil {
				return "", "", err
			}
			return "pgx", dsn, nil
		}
		return "pgx", src.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported dialect %q", src.Dialect)
	}
}

func withQueryParam(dsn, key, value string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil || parsed.Scheme == "" {
		// keyword/value DSN
		return strings.TrimSpace(dsn) + " " + key + "=" + value, nil
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
