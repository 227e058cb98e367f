package domain

import (
	"errors"
	"fmt"
)

// ErrBadRequest marks malformed administration input.
var ErrBadRequest = errors.New("bad request")

// PersistenceError reports a failed write to configuration or an audit
// output. The in-memory effect of the operation has already been applied.
type PersistenceError struct {
	Target string // config | audit-file | audit-db | telegram
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Target, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError for target. Nil stays nil.
func Persistence(target string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Target: target, Err: err}
}
