package load

import (
	"context"
	"fmt"
	"io"
)

// Store opens transactions against a datastore.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one datastore transaction. Rollback after Commit is a no-op.
type Tx interface {
	// Exec runs script as one batch of statements.
	Exec(ctx context.Context, script string) error

	// CopyCSV bulk loads CSV with a header row from r into table and returns
	// the number of rows copied.
	CopyCSV(ctx context.Context, table string, r io.Reader) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Database is a Store that owns a connection and must be closed.
type Database interface {
	Store
	Close()
}

// Open connects to the datastore named by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Database, error) {
	switch driver {
	case "postgres", "":
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
