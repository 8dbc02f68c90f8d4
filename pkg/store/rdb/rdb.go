// Package rdb is the relational-store adapter (component A): a thin
// sqlx/pgx wrapper providing transaction scoping and the row-lock-skip-
// locked claim primitive the outbox builds on (pkg/jobs claims a single
// row by id with its own query), in the style of the teacher's pkg/datastorage repository constructors.
package rdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/justLukaBB/creditor-email-matcher/pkg/shared/errors"

	// registers the "pgx" driver with database/sql for sqlx.Connect.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the pgx-backed *sqlx.DB connection pool.
type Store struct {
	DB     *sqlx.DB
	logger *zap.Logger
}

// Open connects using the pgx stdlib driver registered under "pgx", with the
// pool sizing the teacher's internal/config.DatabaseConfig already carries.
func Open(dsn string, maxOpenConns, maxIdleConns int, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, apperrors.DatabaseError("connect", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	return &Store{DB: db, logger: logger}, nil
}

// NewWithDB wraps an already-open *sqlx.DB, the seam tests use to inject a
// go-sqlmock connection without dialing a real Postgres instance.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{DB: db, logger: logger}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// WithTransaction runs fn inside a single transaction, committing on a nil
// return and rolling back otherwise. fn must use the *sqlx.Tx it is given,
// never s.DB, or it escapes the transaction boundary.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError("commit transaction", err)
	}
	return nil
}

// ClaimRows selects up to limit rows matching whereClause (already
// parameterized, args supplied positionally after the limit) using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent worker instances never
// double-claim the same row (§4.C, §8 I5 scope). dest must be a pointer to a
// slice of the target row type. orderBy names the column FIFO ordering is
// claimed by (e.g. "received_at", "created_at"). The claim and the
// subsequent status update must both run in tx.
func ClaimRows(ctx context.Context, tx *sqlx.Tx, dest interface{}, table, whereClause, orderBy string, limit int, args ...interface{}) error {
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s ORDER BY %s ASC LIMIT %d FOR UPDATE SKIP LOCKED`,
		table, whereClause, orderBy, limit)
	if err := tx.SelectContext(ctx, dest, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return apperrors.DatabaseError("claim rows for update skip locked", err)
	}
	return nil
}
