package db

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is the statement surface the judger needs: point reads and updates.
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Row is the result of a single-row query.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	RowsAffected() (int64, error)
}

// IsNoRows reports whether a Row.Scan error means the row does not exist.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
