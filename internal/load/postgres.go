package load

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore applies files to PostgreSQL. Scripts run over the simple
// query protocol so a file may hold many statements; CSV goes through
// COPY ... FROM STDIN.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and pings the database.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	// Loads are strictly sequential.
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Begin starts a transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, script string) error {
	_, err := t.tx.Conn().PgConn().Exec(ctx, script).ReadAll()
	return err
}

func (t *pgTx) CopyCSV(ctx context.Context, table string, r io.Reader) (int64, error) {
	sql := copyStatement(table)
	tag, err := t.tx.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// copyStatement builds the COPY command for table. A dotted name is treated
// as schema.table.
func copyStatement(table string) string {
	return "COPY " + identifier(table).Sanitize() + " FROM STDIN WITH (FORMAT csv, HEADER true)"
}

func identifier(table string) pgx.Identifier {
	for i := 0; i < len(table); i++ {
		if table[i] == '.' {
			return pgx.Identifier{table[:i], table[i+1:]}
		}
	}
	return pgx.Identifier{table}
}
