package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kurihiro0119/github-issue-extractor/internal/storage"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage/sqlstore"
)

var _ storage.Storage = (*postgresStorage)(nil)

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	*sqlstore.Store
	db *sql.DB
}

// NewPostgresStorage connects to connStr and migrates the schema
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened pool. The returned storage closes db on Close.
func New(db *sql.DB) storage.Storage {
	return &postgresStorage{
		Store: sqlstore.New(db, sqlstore.Postgres),
		db:    db,
	}
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS extractions (
		id TEXT PRIMARY KEY,
		repository_owner TEXT NOT NULL,
		repository_name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		current_step TEXT,
		last_issue_cursor TEXT,
		last_pr_cursor TEXT,
		total_issues_fetched INTEGER NOT NULL DEFAULT 0,
		total_prs_fetched INTEGER NOT NULL DEFAULT 0,
		total_issues_expected INTEGER,
		total_prs_expected INTEGER,
		progress_percentage INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		lease_owner TEXT,
		lease_expires_at BIGINT,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_extractions_repository ON extractions(repository_owner, repository_name, created_at);

	CREATE TABLE IF NOT EXISTS repositories (
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		url TEXT NOT NULL,
		license TEXT,
		language TEXT,
		stars INTEGER NOT NULL DEFAULT 0,
		forks INTEGER NOT NULL DEFAULT 0,
		open_issues_count INTEGER NOT NULL DEFAULT 0,
		total_issues_count INTEGER NOT NULL DEFAULT 0,
		total_pull_requests_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		synced_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (owner, name)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		author TEXT NOT NULL,
		state TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ,
		comments_count INTEGER NOT NULL DEFAULT 0,
		assignees JSONB NOT NULL DEFAULT '[]',
		closed_by TEXT,
		state_reason TEXT,
		repository_owner TEXT NOT NULL,
		repository_name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_repository ON issues(repository_owner, repository_name);

	CREATE TABLE IF NOT EXISTS pull_requests (
		id TEXT PRIMARY KEY,
		number INTEGER NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		author TEXT NOT NULL,
		state TEXT NOT NULL,
		url TEXT NOT NULL,
		is_draft BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		closed_at TIMESTAMPTZ,
		merged_at TIMESTAMPTZ,
		assignees JSONB NOT NULL DEFAULT '[]',
		commits_count INTEGER NOT NULL DEFAULT 0,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		changed_files INTEGER NOT NULL DEFAULT 0,
		base_ref_name TEXT,
		head_ref_name TEXT,
		associated_issue_id TEXT,
		repository_owner TEXT NOT NULL,
		repository_name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pull_requests_repository ON pull_requests(repository_owner, repository_name);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		body TEXT,
		author TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ,
		issue_id TEXT,
		pull_request_id TEXT,
		repository_owner TEXT NOT NULL,
		repository_name TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_repository ON comments(repository_owner, repository_name);

	CREATE TABLE IF NOT EXISTS commits (
		sha TEXT NOT NULL,
		pull_request_id TEXT NOT NULL,
		message TEXT,
		author_name TEXT,
		authored_date TIMESTAMPTZ,
		committer_name TEXT,
		committed_date TIMESTAMPTZ,
		url TEXT NOT NULL,
		additions INTEGER NOT NULL DEFAULT 0,
		deletions INTEGER NOT NULL DEFAULT 0,
		total_changed_files INTEGER NOT NULL DEFAULT 0,
		repository_owner TEXT NOT NULL,
		repository_name TEXT NOT NULL,
		PRIMARY KEY (sha, pull_request_id)
	);

	CREATE TABLE IF NOT EXISTS labels (
		name TEXT PRIMARY KEY,
		color TEXT
	);

	CREATE TABLE IF NOT EXISTS issue_labels (
		issue_id TEXT NOT NULL,
		label_name TEXT NOT NULL REFERENCES labels(name),
		PRIMARY KEY (issue_id, label_name)
	);

	CREATE TABLE IF NOT EXISTS pull_request_labels (
		pull_request_id TEXT NOT NULL,
		label_name TEXT NOT NULL REFERENCES labels(name),
		PRIMARY KEY (pull_request_id, label_name)
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating postgres schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
