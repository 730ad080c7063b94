package transfer

import (
	"errors"
	"fmt"
)

// ErrSizeMismatch is wrapped when the bytes written differ from the
// advertised Content-Length.
var ErrSizeMismatch = errors.New("downloaded size does not match advertised size")

// RetryableError marks a failure that a later attempt may not repeat.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError ends the task immediately; no further attempts are made.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
