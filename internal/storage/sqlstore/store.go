// Package sqlstore implements the job store and the sinks on database/sql.
// The postgres and sqlite packages own the driver and the schema and embed a
// Store configured with their placeholder dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
)

// Dialect describes the placeholder syntax of a driver
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of ?
	Numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite3"}
)

// Rebind rewrites the ? placeholders of query for the dialect
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store implements storage.JobStore and the sink interfaces on an injected pool
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New creates a Store over db. The caller owns db.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// inTx runs fn in a transaction that is rolled back unless fn and the commit
// succeed. Failures are reported as persistence errors.
func (s *Store) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError(what, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return apperrors.NewPersistenceError(what, err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError(what, err)
	}
	return nil
}

func (s *Store) prepare(ctx context.Context, tx *sql.Tx, query string) (*sql.Stmt, error) {
	stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(query))
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	return stmt, nil
}

func (s *Store) txExec(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	_, err := tx.ExecContext(ctx, s.dialect.Rebind(query), args...)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimeValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
