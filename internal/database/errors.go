package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

var (
	// ErrNotInitialized is returned when an operation runs before Initialize
	// completed or after Close.
	ErrNotInitialized = errors.New("database not initialized")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("conflict")
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrRollback is returned by Tx.Rollback to abort a transaction on purpose.
	ErrRollback = errors.New("transaction rolled back")
	// ErrNestedTransaction is returned when Execute is called from inside
	// another transaction's body.
	ErrNestedTransaction = errors.New("transaction already in progress")
	// ErrLegacySchema is returned when a legacy store is found and the
	// configured policy refuses to reset it.
	ErrLegacySchema = errors.New("legacy schema detected")
	// ErrMigrationRequired is returned by operations that need a newer schema
	// than the one currently recorded.
	ErrMigrationRequired = errors.New("schema migration required")
	// ErrNoBackups is returned when a rollback is requested but the
	// migration backup tables are gone.
	ErrNoBackups = errors.New("no migration backup tables present")
)

// ValidationError reports a caller-supplied value outside its domain.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InitializationError reports a failure while opening or bootstrapping the store.
type InitializationError struct {
	Op   string
	Path string
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize %s (%s): %v", e.Path, e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// TransactionAbortedError reports that a transaction body failed and the
// transaction was rolled back. Cause is the original error.
type TransactionAbortedError struct {
	Name  string
	Cause error
}

func (e *TransactionAbortedError) Error() string {
	return fmt.Sprintf("transaction %s aborted: %v", e.Name, e.Cause)
}

func (e *TransactionAbortedError) Unwrap() error { return e.Cause }

// CriticalRollbackFailureError reports that rolling back after an error
// also failed. The store may be in an indeterminate state.
type CriticalRollbackFailureError struct {
	Name        string
	Cause       error
	RollbackErr error
}

func (e *CriticalRollbackFailureError) Error() string {
	return fmt.Sprintf("transaction %s: rollback failed (%v) after error: %v", e.Name, e.RollbackErr, e.Cause)
}

func (e *CriticalRollbackFailureError) Unwrap() []error {
	return []error{e.Cause, e.RollbackErr}
}

// MigrationError reports a failed schema migration step. The recorded schema
// version is unchanged when this is returned.
type MigrationError struct {
	Version int
	Step    string
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("migration to v%d failed: %v", e.Version, e.Err)
	}
	return fmt.Sprintf("migration to v%d failed at %s: %v", e.Version, e.Step, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// BulkChunkError identifies the chunk and item offset at which a bulk
// operation failed.
type BulkChunkError struct {
	Chunk  int
	Offset int
	Err    error
}

func (e *BulkChunkError) Error() string {
	return fmt.Sprintf("bulk chunk %d failed at item %d: %v", e.Chunk, e.Offset, e.Err)
}

func (e *BulkChunkError) Unwrap() error { return e.Err }

// IsConstraintViolation reports whether err is an SQLite constraint error
// (unique, primary key, foreign key or check).
func IsConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

// isDuplicateColumn reports whether err is SQLite's "duplicate column name"
// error raised by ALTER TABLE ADD COLUMN on a re-run.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
