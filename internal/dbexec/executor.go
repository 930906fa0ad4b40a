// Package dbexec provides database query execution abstractions, letting the
// dispatcher (internal/dispatcher) run against a pooled *sql.DB without
// depending on database/sql directly.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so callers can swap in role-aware behavior.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, wrapDriverError("query", sql.ErrConnDone)
	}
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDriverError("query", err)
	}
	return rows, nil
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, wrapDriverError("exec", sql.ErrConnDone)
	}
	result, err := e.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDriverError("exec", err)
	}
	return result, nil
}
