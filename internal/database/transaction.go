package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"vdotapes/internal/logging"
	"vdotapes/internal/metrics"
)

// DefaultBatchSize is the chunk size ExecuteBulk uses when none is given.
const DefaultBatchSize = 500

// Isolation selects the SQLite BEGIN mode of a transaction.
type Isolation int

const (
	// Deferred takes locks on first access.
	Deferred Isolation = iota
	// Immediate takes the write lock when the transaction begins.
	Immediate
	// Exclusive additionally blocks readers on non-WAL stores.
	Exclusive
)

func (i Isolation) String() string {
	switch i {
	case Immediate:
		return "IMMEDIATE"
	case Exclusive:
		return "EXCLUSIVE"
	default:
		return "DEFERRED"
	}
}

func (i Isolation) beginStatement() string {
	return "BEGIN " + i.String()
}

// TxOptions configures Execute. The zero value is an unnamed DEFERRED
// transaction.
type TxOptions struct {
	Isolation Isolation
	Name      string
}

// queryer is satisfied by *sql.DB, *sql.Conn and *Tx's underlying conn.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// txKey marks a context derived from an open transaction.
type txKey struct{}

// Tx is an open transaction pinned to the store's connection. It is only
// valid inside the function passed to Execute.
type Tx struct {
	ctx        context.Context
	conn       *sql.Conn
	isolation  Isolation
	savepoints []string
}

// Context returns the context the transaction was started with.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Isolation returns the BEGIN mode of the transaction.
func (tx *Tx) Isolation() Isolation { return tx.isolation }

// ExecContext executes a statement inside the transaction.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.conn.QueryRowContext(ctx, query, args...)
}

// Exec is ExecContext with the transaction's own context.
func (tx *Tx) Exec(query string, args ...any) (sql.Result, error) {
	return tx.conn.ExecContext(tx.ctx, query, args...)
}

// Query is QueryContext with the transaction's own context.
func (tx *Tx) Query(query string, args ...any) (*sql.Rows, error) {
	return tx.conn.QueryContext(tx.ctx, query, args...)
}

// QueryRow is QueryRowContext with the transaction's own context.
func (tx *Tx) QueryRow(query string, args ...any) *sql.Row {
	return tx.conn.QueryRowContext(tx.ctx, query, args...)
}

// Savepoint opens a named savepoint.
func (tx *Tx) Savepoint(name string) error {
	if !savepointName.MatchString(name) {
		return NewValidationError("savepoint", "invalid savepoint name %q", name)
	}
	if _, err := tx.Exec("SAVEPOINT " + name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	tx.savepoints = append(tx.savepoints, name)
	return nil
}

// Release commits a savepoint into the enclosing transaction. Savepoints
// opened after it are released too.
func (tx *Tx) Release(name string) error {
	idx := tx.savepointIndex(name)
	if idx < 0 {
		return NewValidationError("savepoint", "no open savepoint %q", name)
	}
	if _, err := tx.Exec("RELEASE SAVEPOINT " + name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	tx.savepoints = tx.savepoints[:idx]
	return nil
}

// RollbackTo undoes everything since the savepoint was opened. The
// savepoint itself stays open.
func (tx *Tx) RollbackTo(name string) error {
	idx := tx.savepointIndex(name)
	if idx < 0 {
		return NewValidationError("savepoint", "no open savepoint %q", name)
	}
	if _, err := tx.Exec("ROLLBACK TO SAVEPOINT " + name); err != nil {
		return fmt.Errorf("rollback to savepoint %s: %w", name, err)
	}
	tx.savepoints = tx.savepoints[:idx+1]
	return nil
}

// Rollback returns ErrRollback. Returning it from the body of Execute rolls
// the transaction back and makes Execute return ErrRollback unwrapped.
func (tx *Tx) Rollback() error {
	return ErrRollback
}

func (tx *Tx) savepointIndex(name string) int {
	for i := len(tx.savepoints) - 1; i >= 0; i-- {
		if tx.savepoints[i] == name {
			return i
		}
	}
	return -1
}

// Execute runs fn inside one transaction on the store's single connection.
// The transaction commits when fn returns nil and rolls back otherwise,
// including on panic, which is re-raised after the rollback.
//
// Only one transaction is open at a time. Calls from other goroutines wait
// for the running one to finish, or for their context to be done. A call
// made with a transaction's context (Tx.Context) from inside its body
// returns ErrNestedTransaction without touching the store; use
// Tx.Savepoint for nested units of work. Bodies must pass Tx.Context, not
// the outer context, to anything that may start a transaction.
//
// A body error is returned wrapped in *TransactionAbortedError, except
// ErrRollback which is returned as is. If the rollback itself fails the
// result is *CriticalRollbackFailureError.
func (d *Database) Execute(ctx context.Context, opts TxOptions, fn func(tx *Tx) error) (err error) {
	db, err := d.handle()
	if err != nil {
		return err
	}

	if owner, ok := ctx.Value(txKey{}).(*Database); ok && owner == d {
		return ErrNestedTransaction
	}

	select {
	case d.txSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.inTx.Store(true)
	defer func() {
		d.inTx.Store(false)
		<-d.txSlot
	}()

	name := opts.Name
	if name == "" {
		name = "transaction"
	}
	start := time.Now()

	conn, err := db.Conn(ctx)
	if err != nil {
		return &TransactionAbortedError{Name: name, Cause: fmt.Errorf("acquire connection: %w", err)}
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logging.Debug("transaction %s: release connection: %v", name, closeErr)
		}
	}()

	if _, err := conn.ExecContext(ctx, opts.Isolation.beginStatement()); err != nil {
		return &TransactionAbortedError{Name: name, Cause: fmt.Errorf("begin: %w", err)}
	}

	tx := &Tx{ctx: context.WithValue(ctx, txKey{}, d), conn: conn, isolation: opts.Isolation}

	committed := false
	defer func() {
		if p := recover(); p != nil {
			if !committed {
				_ = d.rollback(ctx, conn, name, start, fmt.Errorf("panic: %v", p))
			}
			panic(p)
		}
	}()

	if bodyErr := fn(tx); bodyErr != nil {
		return d.rollback(ctx, conn, name, start, bodyErr)
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return d.rollback(ctx, conn, name, start, fmt.Errorf("commit: %w", err))
	}
	committed = true

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	return nil
}

// rollback aborts the open transaction and builds the error Execute returns.
func (d *Database) rollback(ctx context.Context, conn *sql.Conn, name string, start time.Time, cause error) error {
	// The caller's context may be what failed; the rollback must still run.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
	defer cancel()

	if _, rbErr := conn.ExecContext(rbCtx, "ROLLBACK"); rbErr != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback_failed").Observe(time.Since(start).Seconds())
		logging.Critical("Rollback of transaction %s failed; store may be in an indeterminate state. rollback error: %v; original error: %v",
			name, rbErr, cause)
		// Discard the connection so the pool opens a fresh one.
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		return &CriticalRollbackFailureError{Name: name, Cause: cause, RollbackErr: rbErr}
	}

	metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(start).Seconds())
	if cause == ErrRollback {
		logging.Debug("Transaction %s rolled back on request", name)
		return ErrRollback
	}
	logging.Debug("Transaction %s rolled back: %v", name, cause)
	return &TransactionAbortedError{Name: name, Cause: cause}
}

// ExecuteResult runs fn in a transaction and returns its value on commit.
func ExecuteResult[T any](ctx context.Context, d *Database, opts TxOptions, fn func(tx *Tx) (T, error)) (T, error) {
	var result T
	err := d.Execute(ctx, opts, func(tx *Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// ExecuteBulk applies op to every item inside one IMMEDIATE transaction,
// in chunks of batchSize guarded by savepoints. The first failing item
// aborts the whole transaction and is reported as *BulkChunkError.
// It returns the number of items processed.
func ExecuteBulk[T any](ctx context.Context, d *Database, items []T, batchSize int, op func(tx *Tx, item T) error) (int, error) {
	processed := 0
	err := d.Execute(ctx, TxOptions{Isolation: Immediate, Name: "bulk"}, func(tx *Tx) error {
		n, err := BulkInTx(tx, items, batchSize, op)
		processed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return processed, nil
}

// BulkInTx is ExecuteBulk for callers already inside a transaction. A
// failing chunk is rolled back to its savepoint before the error is
// returned, so the caller may decide to continue.
func BulkInTx[T any](tx *Tx, items []T, batchSize int, op func(tx *Tx, item T) error) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// Scope savepoint names so bulk calls inside a savepoint cannot collide.
	scope := uuid.NewString()[:8]
	processed := 0

	for chunk, offset := 0, 0; offset < len(items); chunk, offset = chunk+1, offset+batchSize {
		end := min(offset+batchSize, len(items))
		sp := fmt.Sprintf("bulk_%s_%d", scope, chunk)

		if err := tx.Savepoint(sp); err != nil {
			return processed, &BulkChunkError{Chunk: chunk, Offset: offset, Err: err}
		}

		for i, item := range items[offset:end] {
			if err := op(tx, item); err != nil {
				if rbErr := tx.RollbackTo(sp); rbErr != nil {
					logging.Warn("bulk chunk %d: rollback to savepoint failed: %v", chunk, rbErr)
				} else if relErr := tx.Release(sp); relErr != nil {
					logging.Warn("bulk chunk %d: release savepoint failed: %v", chunk, relErr)
				}
				return processed, &BulkChunkError{Chunk: chunk, Offset: offset + i, Err: err}
			}
		}

		if err := tx.Release(sp); err != nil {
			return processed, &BulkChunkError{Chunk: chunk, Offset: offset, Err: err}
		}
		processed += end - offset
	}

	return processed, nil
}
