package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/watchfix/api/internal/platform/requestctx"
)

const defaultTxTimeout = 30 * time.Second

// Querier is the subset of *sql.DB and *sql.Tx used by repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txContextKey struct{}

// Conn returns the transaction carried by ctx, or db when ctx is outside a transaction.
func Conn(ctx context.Context, db *sql.DB) Querier {
	if tx, ok := ctx.Value(txContextKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txContextKey{}).(*sql.Tx)
	return ok && tx != nil
}

// TxOption customises transaction behaviour.
type TxOption func(*TxRunner)

// WithTxTimeout bounds the lifetime of a transaction.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(r *TxRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithIsolation sets the isolation level of new transactions.
func WithIsolation(level sql.IsolationLevel) TxOption {
	return func(r *TxRunner) { r.isolation = level }
}

// TxRunner implements repositories.UnitOfWork over a connection pool.
type TxRunner struct {
	db        *sql.DB
	timeout   time.Duration
	isolation sql.IsolationLevel
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(db *sql.DB, opts ...TxOption) (*TxRunner, error) {
	if db == nil {
		return nil, errors.New("database: db is required")
	}
	r := &TxRunner{db: db, timeout: defaultTxTimeout, isolation: sql.LevelReadCommitted}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// RunInTx executes fn inside a transaction carried on the ctx handed to fn. The transaction is
// committed when fn returns nil and rolled back on error or panic; a nested call joins the outer
// transaction. A rollback failure is logged and never replaces the error that caused it.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return WrapError("transaction", errors.New("database: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	txCtx := ctx
	if r.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > r.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
	}

	tx, err := r.db.BeginTx(txCtx, &sql.TxOptions{Isolation: r.isolation})
	if err != nil {
		return WrapError("transaction.begin", err)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			rollback(ctx, tx, fmt.Errorf("panic: %v", recovered))
			panic(recovered)
		}
	}()

	if err := fn(context.WithValue(txCtx, txContextKey{}, tx)); err != nil {
		rollback(ctx, tx, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}

func rollback(ctx context.Context, tx *sql.Tx, cause error) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		requestctx.Logger(ctx).Error("tx.rollback_failed",
			zap.Error(err),
			zap.NamedError("cause", cause),
		)
	}
}
