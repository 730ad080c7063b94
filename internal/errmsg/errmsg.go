// Package errmsg maps technical errors from fetch and import runs to short
// operator-facing messages with a stable code.
//
// # Error Codes Reference
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key: A row with this key already exists
//	        Action: Truncate the target table or drop the duplicate rows before re-importing
//	        SQLSTATE 23505; Patterns: "duplicate key"
//
//	DB002 - Foreign key: A referenced row does not exist
//	        Action: Import parent tables first (scripts run before tabular files)
//	        SQLSTATE 23503; Patterns: "violates foreign key"
//
//	DB003 - Missing table: The destination table does not exist
//	        Action: Run the schema script, or check the file-to-table naming
//	        SQLSTATE 42P01; Patterns: "no such table", "relation .* does not exist"
//
//	DB004 - Connection refused: Unable to connect to database
//	        Action: Check host, port and that the server is running
//	        Patterns: "connection refused"
//
//	DB005 - Authentication failed: The database rejected the credentials
//	        Action: Check --db-user and --db-password
//	        SQLSTATE 28P01, 28000; Patterns: "password authentication failed"
//
//	DB006 - Syntax error: A script statement could not be parsed
//	        Action: Fix the SQL file; nothing from it was applied
//	        SQLSTATE 42601; Patterns: "syntax error"
//
//	DB007 - Deadlock: Database was busy with conflicting operations
//	        Action: Re-run the import
//	        SQLSTATE 40P01; Patterns: "deadlock"
//
//	DB008 - Bad data: A CSV value does not fit its column
//	        Action: Check the file against the table's column types
//	        SQLSTATE class 22
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Empty file: A file to import has no content
//	         Action: Re-fetch the dataset; nothing was imported
//	         Patterns: "empty file"
//
//	VAL002 - Invalid CSV: A tabular file could not be parsed
//	         Action: Re-fetch the dataset; nothing was imported
//	         Patterns: "invalid csv"
//
// # Fetch Errors (FET001-FET099)
//
//	FET001 - Size mismatch: Download was shorter or longer than advertised
//	         Action: Re-run fetch; completed files are skipped
//	         Patterns: "does not match advertised size"
//
//	FET002 - Not found: The remote file no longer exists
//	         Action: Re-run fetch to pick up the current listing
//	         HTTP status 404 from a transfer
//
//	FET003 - Corrupt archive: A compressed download could not be expanded
//	         Action: Delete the .bz2 file and re-run fetch
//	         Patterns: "bzip2"
//
// # Loader Errors (LDR001-LDR099)
//
//	LDR001 - Loader script failed: The delegated shell loader exited non-zero
//	         Action: Check the script output above
//	         Patterns: "loader script"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Cancelled: The run was interrupted
//	         Action: Re-run; completed work is kept
//	         Patterns: "context canceled"
//
//	RUN002 - Timeout: Operation timed out
//	         Action: Check network connectivity and retry
//	         Patterns: "timeout", "context deadline exceeded"
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Invalid configuration: A setting or flag is missing or out of range
//	         Action: Fix the listed settings
//	         Patterns: "config validation", "config load", "import validation failed"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Re-run with --log-level debug and check the logs
//
// # Matching
//
// A *pgconn.PgError anywhere in the chain is classified by SQLSTATE first,
// then a transfer's HTTP status. Otherwise patterns are matched case-insensitively with strings.Contains and
// the first match wins, so specific patterns come before general ones.
package errmsg

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/bulkdata/internal/transfer"
)

// UserMessage is the operator-facing rendering of an error.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Stable reference code
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgDuplicate = UserMessage{
		Message: "A row with this key already exists",
		Action:  "Truncate the target table or drop the duplicate rows before re-importing",
		Code:    "DB001",
	}
	msgForeignKey = UserMessage{
		Message: "A referenced row does not exist",
		Action:  "Import parent tables first (scripts run before tabular files)",
		Code:    "DB002",
	}
	msgMissingTable = UserMessage{
		Message: "The destination table does not exist",
		Action:  "Run the schema script, or check the file-to-table naming",
		Code:    "DB003",
	}
	msgAuth = UserMessage{
		Message: "The database rejected the credentials",
		Action:  "Check --db-user and --db-password",
		Code:    "DB005",
	}
	msgSyntax = UserMessage{
		Message: "A script statement could not be parsed",
		Action:  "Fix the SQL file; nothing from it was applied",
		Code:    "DB006",
	}
	msgDeadlock = UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Re-run the import",
		Code:    "DB007",
	}
	msgBadData = UserMessage{
		Message: "A CSV value does not fit its column",
		Action:  "Check the file against the table's column types",
		Code:    "DB008",
	}
	msgNotFound = UserMessage{
		Message: "The remote file no longer exists",
		Action:  "Re-run fetch to pick up the current listing",
		Code:    "FET002",
	}
	msgConfig = UserMessage{
		Message: "Invalid configuration",
		Action:  "Fix the listed settings",
		Code:    "CFG001",
	}
	msgCancelled = UserMessage{
		Message: "The run was interrupted",
		Action:  "Re-run; completed work is kept",
		Code:    "RUN001",
	}
	msgTimeout = UserMessage{
		Message: "Operation timed out",
		Action:  "Check network connectivity and retry",
		Code:    "RUN002",
	}
)

// errorPatterns is checked in order; keep specific patterns first.
var errorPatterns = []errorPattern{
	// Configuration
	{"config validation", msgConfig},
	{"config load", msgConfig},
	{"import validation failed", msgConfig},

	// Database
	{"duplicate key", msgDuplicate},
	{"unique constraint", msgDuplicate},
	{"violates foreign key", msgForeignKey},
	{"foreign key constraint", msgForeignKey},
	{"no such table", msgMissingTable},
	{"does not exist", msgMissingTable},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Check host, port and that the server is running",
		Code:    "DB004",
	}},
	{"password authentication failed", msgAuth},
	{"syntax error", msgSyntax},
	{"deadlock", msgDeadlock},

	// Validation
	{"empty file", UserMessage{
		Message: "A file to import has no content",
		Action:  "Re-fetch the dataset; nothing was imported",
		Code:    "VAL001",
	}},
	{"invalid csv", UserMessage{
		Message: "A tabular file could not be parsed",
		Action:  "Re-fetch the dataset; nothing was imported",
		Code:    "VAL002",
	}},

	// Fetch
	{"does not match advertised size", UserMessage{
		Message: "Download was shorter or longer than advertised",
		Action:  "Re-run fetch; completed files are skipped",
		Code:    "FET001",
	}},
	{"bzip2", UserMessage{
		Message: "A compressed download could not be expanded",
		Action:  "Delete the .bz2 file and re-run fetch",
		Code:    "FET003",
	}},

	// Loader
	{"loader script", UserMessage{
		Message: "The delegated shell loader failed",
		Action:  "Check the script output above",
		Code:    "LDR001",
	}},

	// Run
	{"context canceled", msgCancelled},
	{"timeout", msgTimeout},
	{"context deadline exceeded", msgTimeout},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Re-run with --log-level debug and check the logs",
	Code:    "ERR000",
}

// sqlStateMessages classifies exact SQLSTATE codes.
var sqlStateMessages = map[string]UserMessage{
	"23505": msgDuplicate,
	"23503": msgForeignKey,
	"42P01": msgMissingTable,
	"28P01": msgAuth,
	"28000": msgAuth,
	"42601": msgSyntax,
	"40P01": msgDeadlock,
	"57014": msgCancelled,
}

// MapError converts err to a user message. A nil error maps to the zero value.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if msg, ok := sqlStateMessages[pgErr.Code]; ok {
			return msg
		}
		if strings.HasPrefix(pgErr.Code, "22") {
			return msgBadData
		}
	}

	if transfer.StatusCode(err) == http.StatusNotFound {
		return msgNotFound
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action", or "" for nil.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsKnown reports whether err matched something more specific than ERR000.
func IsKnown(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
