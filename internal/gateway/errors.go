package gateway

import (
	"errors"
	"fmt"
)

// ErrTableNotFound is matched by errors.Is for any TableNotFoundError.
var ErrTableNotFound = errors.New("table not found")

// TableNotFoundError reports a describe on a table with no visible columns.
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %q not found", e.Table)
}

func (e *TableNotFoundError) Is(target error) bool {
	return target == ErrTableNotFound
}

// ConnectionError wraps failures of the underlying connection.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryExecutionError wraps a statement failure inside a read-only transaction.
type QueryExecutionError struct {
	Err error
}

func (e *QueryExecutionError) Error() string {
	return e.Err.Error()
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// RollbackError is a failure while resolving a transaction. It is logged and
// counted but never returned to callers.
type RollbackError struct {
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback failed: %v", e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
