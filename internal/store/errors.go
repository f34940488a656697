package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrCorrupt   = errors.New("corrupt")
	ErrClosed    = errors.New("store is closed")
	ErrInvalidID = errors.New("empty record ID")
)

// RecordError ties a failure kind (ErrNotFound or ErrCorrupt) to the table
// and key it happened on. Cause holds the decoder error for corrupt rows.
type RecordError struct {
	Kind  error
	Table string
	Key   string
	Cause error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Table, e.Key, e.Kind)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RecordError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func notFound(table, key string) error {
	return &RecordError{Kind: ErrNotFound, Table: table, Key: key}
}

func corrupt(table, key string, cause error) error {
	return &RecordError{Kind: ErrCorrupt, Table: table, Key: key, Cause: cause}
}

// IsNotFound reports a missing state or history row.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsCorrupt reports a row whose JSON payload no longer decodes.
func IsCorrupt(err error) bool { return errors.Is(err, ErrCorrupt) }
