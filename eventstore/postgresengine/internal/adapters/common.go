package adapters

import (
	"context"
	"database/sql"
	"errors"
)

// stdTx wraps a standard library sql.Tx to implement the DBTransaction
// interface; it is shared by the sql.DB and sqlx adapters.
type stdTx struct {
	tx *sql.Tx
}

// Query executes a parameterized query inside the transaction.
func (t *stdTx) Query(ctx context.Context, query string, args ...any) (DBRows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &stdRows{rows: rows}, nil
}

// Exec executes a parameterized statement inside the transaction.
func (t *stdTx) Exec(ctx context.Context, query string, args ...any) (DBResult, error) {
	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &stdResult{result: result}, nil
}

// Commit commits the transaction. The context is accepted for interface
// symmetry; database/sql transactions commit without one.
func (t *stdTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

// Rollback rolls the transaction back; rolling back a finished transaction
// is a no-op.
func (t *stdTx) Rollback(_ context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}

	return nil
}

// stdRows wraps standard library sql.Rows to implement the DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

// Next advances to the next row.
func (s *stdRows) Next() bool {
	return s.rows.Next()
}

// Scan copies row values into provided destinations.
func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

// Close closes the rows iterator and surfaces any iteration error.
func (s *stdRows) Close() error {
	closeErr := s.rows.Close()

	if err := s.rows.Err(); err != nil {
		return err
	}

	return closeErr
}

// stdResult wraps standard library sql.Result to implement the DBResult interface.
type stdResult struct {
	result sql.Result
}

// RowsAffected returns the number of rows affected by the command.
func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}
