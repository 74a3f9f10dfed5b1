package repository

import (
	"context"
	"database/sql"
)

// Querier is the subset of database/sql used by repository methods that may
// run either on the pool or inside a transaction. *sql.DB and *sql.Tx both
// satisfy it; the correlation engine passes its ingestion transaction so
// merge decisions read the current persisted state under the row lock.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
