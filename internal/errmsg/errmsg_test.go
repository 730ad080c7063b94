package errmsg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/bulkdata/internal/catalog"
	"github.com/JonMunkholm/bulkdata/internal/transfer"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"sqlite unique", errors.New("insert row 2: UNIQUE constraint failed: docket.id"), "DB001"},
		{"foreign key", errors.New("violates foreign key constraint \"fk_court\""), "DB002"},
		{"sqlite missing table", errors.New("no such table: no_such_table"), "DB003"},
		{"postgres missing relation", errors.New(`relation "dockets" does not exist`), "DB003"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "DB004"},
		{"empty file", errors.New("validation failed: people.csv: empty file: no header row"), "VAL001"},
		{"invalid csv", errors.New("validation failed: a.csv: invalid csv: bare quote"), "VAL002"},
		{"size mismatch", errors.New("verify: downloaded size does not match advertised size: got 1, want 2"), "FET001"},
		{"404 in text is not a status", errors.New("skipped row 404 of dockets.csv"), "ERR000"},
		{"corrupt archive", errors.New("extract: decompress x.bz2: bzip2 data invalid: bad magic value"), "FET003"},
		{"loader script", errors.New("loader script load.sh exited with status 1"), "LDR001"},
		{"cancelled", fmt.Errorf("download: %w", context.Canceled), "RUN001"},
		{"deadline", context.DeadlineExceeded, "RUN002"},
		{"config", errors.New("config validation: validation failed:\n  - FETCH_WORKERS (0) must be positive"), "CFG001"},
		{"import config", errors.New("import validation failed:\n  - BULK_DB_HOST (--db-host) is required"), "CFG001"},
		{"unknown", errors.New("something strange"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapError_PgError(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"23505", "DB001"},
		{"23503", "DB002"},
		{"42P01", "DB003"},
		{"28P01", "DB005"},
		{"42601", "DB006"},
		{"40P01", "DB007"},
		{"22P02", "DB008"},
		{"57014", "RUN001"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("load docket.csv (begun): %w", &pgconn.PgError{Code: tt.code, Message: "x"})
			if got := MapError(err).Code; got != tt.want {
				t.Errorf("MapError() code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapError_TransferNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	ref, ok := catalog.NewFileReference(srv.URL + "/bulk-data/dockets-2025-07-01.csv")
	if !ok {
		t.Fatal("bad reference")
	}
	out := transfer.NewWorker(transfer.Config{MaxAttempts: 1}).
		Transfer(context.Background(), transfer.Task{Ref: ref, DestDir: t.TempDir()})
	if out.Err == nil {
		t.Fatal("expected a transfer error")
	}

	err := fmt.Errorf("one or more transfers failed: %w", out.Err)
	if got := MapError(err).Code; got != "FET002" {
		t.Errorf("MapError() code = %q, want FET002 (err: %v)", got, err)
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q", got)
	}

	got := FormatUserError(errors.New("duplicate key"))
	if !strings.Contains(got, "(Code: DB001)") || !strings.HasPrefix(got, "A row with this key already exists") {
		t.Errorf("FormatUserError() = %q", got)
	}
}

func TestIsKnown(t *testing.T) {
	if IsKnown(nil) {
		t.Error("IsKnown(nil) = true")
	}
	if !IsKnown(errors.New("connection refused")) {
		t.Error("connection refused should be known")
	}
	if IsKnown(errors.New("weird")) {
		t.Error("unmatched error should not be known")
	}
}
