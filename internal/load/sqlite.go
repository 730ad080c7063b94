package load

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore applies files to a SQLite database file. It is used for
// offline imports and as a real transactional store in tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// DB exposes the handle for inspection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Begin starts a transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exec(ctx context.Context, script string) error {
	_, err := t.tx.ExecContext(ctx, script)
	return err
}

// CopyCSV inserts each record with a prepared statement built from the header.
// Empty fields are stored as NULL, matching COPY's CSV handling of unquoted
// empty values.
func (t *sqliteTx) CopyCSV(ctx context.Context, table string, r io.Reader) (int64, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errors.New("missing header row")
		}
		return 0, fmt.Errorf("read header: %w", err)
	}
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = true

	stmt, err := t.tx.PrepareContext(ctx, insertStatement(table, header))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	args := make([]any, len(header))
	var rows int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row %d: %w", rows+1, err)
		}

		for i, v := range rec {
			if v == "" {
				args[i] = nil
			} else {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return rows, fmt.Errorf("insert row %d: %w", rows+1, err)
		}
		rows++
	}

	return rows, nil
}

func (t *sqliteTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func insertStatement(table string, columns []string) string {
	cols := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(strings.TrimSpace(c))
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
}
