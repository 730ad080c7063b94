package load

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Invalid describes one file that failed validation.
type Invalid struct {
	File   File
	Reason string
}

// BatchValidationError lists every invalid file in a batch. Any entry blocks
// the whole import.
type BatchValidationError struct {
	Invalid []Invalid
}

func (e *BatchValidationError) Error() string {
	if len(e.Invalid) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Invalid[0].File.Name(), e.Invalid[0].Reason)
	}

	parts := make([]string, len(e.Invalid))
	for i, inv := range e.Invalid {
		parts[i] = inv.File.Name() + ": " + inv.Reason
	}
	return fmt.Sprintf("validation failed for %d files: %s", len(e.Invalid), strings.Join(parts, "; "))
}

// Validate checks that a file is structurally loadable. It never returns an
// error: I/O problems make the file invalid and are described in reason.
func Validate(f File) (ok bool, reason string) {
	switch f.Kind {
	case Tabular:
		return validateTabular(f.Path)
	case Script:
		return validateScript(f.Path)
	default:
		return false, "unknown file kind " + f.Kind.String()
	}
}

func validateTabular(path string) (bool, string) {
	r, err := openText(path)
	if err != nil {
		return false, "cannot open: " + err.Error()
	}
	defer r.Close()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return false, "empty file: no header row"
		}
		return false, "invalid csv: " + err.Error()
	}

	return true, ""
}

func validateScript(path string) (bool, string) {
	r, err := openText(path)
	if err != nil {
		return false, "cannot open: " + err.Error()
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return false, "cannot read: " + err.Error()
	}
	if strings.TrimSpace(string(content)) == "" {
		return false, "empty file: no statements"
	}

	return true, ""
}

// ValidateBatch validates every file and returns a *BatchValidationError
// naming all invalid ones, or nil.
func ValidateBatch(files []File) error {
	var invalid []Invalid
	for _, f := range files {
		if ok, reason := Validate(f); !ok {
			invalid = append(invalid, Invalid{File: f, Reason: reason})
		}
	}
	if len(invalid) > 0 {
		return &BatchValidationError{Invalid: invalid}
	}
	return nil
}
