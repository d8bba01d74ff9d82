// Package db abstracts the relational store behind small interfaces so
// repositories and tests never touch *sql.DB directly.
package db

import "context"

// Querier abstracts query execution shared by a database and a transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
}

// Database is a connection pool plus transaction entry points.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing on nil return
	// and rolling back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Transaction is the querier view of an open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows is an iterator over a query result set.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row query result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result reports the outcome of a mutation.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// GetQuerier returns tx when inside a transaction, otherwise the database.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}
