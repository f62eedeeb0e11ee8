package adapters

import "context"

// DBAdapter defines the interface for database operations needed by the
// event store. Reads run as plain parameterized queries; the append path
// runs inside an explicit transaction obtained from BeginSerializable so
// the rejection check and the inserts share one isolation scope.
type DBAdapter interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	BeginSerializable(ctx context.Context) (DBTransaction, error)
}

// DBTransaction defines the interface for statements scoped to one
// transaction. Rollback after a successful Commit is a no-op, so engines
// can defer it unconditionally.
type DBTransaction interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	Exec(ctx context.Context, query string, args ...any) (DBResult, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
}
