package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
)

const extractionColumns = `id, repository_owner, repository_name, status, current_step,
	last_issue_cursor, last_pr_cursor, total_issues_fetched, total_prs_fetched,
	total_issues_expected, total_prs_expected, progress_percentage, error_message,
	started_at, finished_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(row rowScanner) (*domain.Extraction, error) {
	var (
		job                                 domain.Extraction
		status                              string
		step, issueCursor, prCursor, errMsg sql.NullString
		issuesExpected, prsExpected         sql.NullInt64
		startedAt, finishedAt               sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.Repository.Owner, &job.Repository.Name, &status, &step,
		&issueCursor, &prCursor, &job.TotalIssuesFetched, &job.TotalPRsFetched,
		&issuesExpected, &prsExpected, &job.ProgressPercentage, &errMsg,
		&startedAt, &finishedAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.ExtractionStatus(status)
	if step.Valid {
		s := domain.ExtractionStep(step.String)
		job.CurrentStep = &s
	}
	if issueCursor.Valid {
		job.LastIssueCursor = &issueCursor.String
	}
	if prCursor.Valid {
		job.LastPRCursor = &prCursor.String
	}
	if errMsg.Valid {
		job.ErrorMessage = &errMsg.String
	}
	if issuesExpected.Valid {
		n := int(issuesExpected.Int64)
		job.TotalIssuesExpected = &n
	}
	if prsExpected.Valid {
		n := int(prsExpected.Int64)
		job.TotalPRsExpected = &n
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}
	return &job, nil
}

// Create inserts a new pending job for repo
func (s *Store) Create(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.Extraction, error) {
	now := s.now()
	job := &domain.Extraction{
		ID:         uuid.New().String(),
		Repository: repo,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.exec(ctx, `
		INSERT INTO extractions (id, repository_owner, repository_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, job.ID, repo.Owner, repo.Name, string(job.Status), now, now)
	if err != nil {
		return nil, apperrors.NewPersistenceError("creating extraction", err)
	}
	return job, nil
}

// FindByID retrieves a job by id
func (s *Store) FindByID(ctx context.Context, id string) (*domain.Extraction, error) {
	job, err := scanExtraction(s.queryRow(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("loading extraction", err)
	}
	return job, nil
}

// FindOrCreate reuses the most recent unfinished job of repo or creates one
func (s *Store) FindOrCreate(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.Extraction, error) {
	job, err := scanExtraction(s.queryRow(ctx, `
		SELECT `+extractionColumns+`
		FROM extractions
		WHERE repository_owner = ? AND repository_name = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, repo.Owner, repo.Name))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.Create(ctx, repo)
	case err != nil:
		return nil, apperrors.NewPersistenceError("loading latest extraction", err)
	case job.Status.Resumable():
		return job, nil
	default:
		return s.Create(ctx, repo)
	}
}

// FindAll lists every job, newest first
func (s *Store) FindAll(ctx context.Context) ([]*domain.Extraction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+extractionColumns+` FROM extractions ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("listing extractions", err)
	}
	defer rows.Close()

	var jobs []*domain.Extraction
	for rows.Next() {
		job, err := scanExtraction(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scanning extraction", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("listing extractions", err)
	}
	return jobs, nil
}

// UpdateStatus sets the status. Running sets started_at once and clears the
// previous run's failure; completed and failed set finished_at.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.ExtractionStatus) error {
	now := s.now()

	var (
		res sql.Result
		err error
	)
	switch status {
	case domain.StatusRunning:
		res, err = s.exec(ctx, `
			UPDATE extractions
			SET status = ?, started_at = COALESCE(started_at, ?), finished_at = NULL,
			    error_message = NULL, updated_at = ?
			WHERE id = ?
		`, string(status), now, now, id)
	case domain.StatusCompleted, domain.StatusFailed:
		res, err = s.exec(ctx, `
			UPDATE extractions
			SET status = ?, finished_at = ?, updated_at = ?
			WHERE id = ?
		`, string(status), now, now, id)
	default:
		res, err = s.exec(ctx, `
			UPDATE extractions
			SET status = ?, updated_at = ?
			WHERE id = ?
		`, string(status), now, id)
	}
	if err != nil {
		return apperrors.NewPersistenceError(fmt.Sprintf("setting extraction %s %s", id, status), err)
	}
	return requireRow(res, id)
}

// UpdateProgress writes the fields set in update in a single statement
func (s *Store) UpdateProgress(ctx context.Context, id string, update domain.ProgressUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if update.CurrentStep != nil {
		set("current_step", string(*update.CurrentStep))
	}
	if update.ProgressPercentage != nil {
		set("progress_percentage", *update.ProgressPercentage)
	}
	if update.LastIssueCursor != nil {
		set("last_issue_cursor", *update.LastIssueCursor)
	}
	if update.LastPRCursor != nil {
		set("last_pr_cursor", *update.LastPRCursor)
	}
	if update.TotalIssuesFetched != nil {
		set("total_issues_fetched", *update.TotalIssuesFetched)
	}
	if update.TotalPRsFetched != nil {
		set("total_prs_fetched", *update.TotalPRsFetched)
	}
	if update.TotalIssuesExpected != nil {
		set("total_issues_expected", *update.TotalIssuesExpected)
	}
	if update.TotalPRsExpected != nil {
		set("total_prs_expected", *update.TotalPRsExpected)
	}
	set("updated_at", s.now())
	args = append(args, id)

	res, err := s.exec(ctx, `UPDATE extractions SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return apperrors.NewPersistenceError("checkpointing extraction "+id, err)
	}
	return requireRow(res, id)
}

// LogError marks the job failed and records err
func (s *Store) LogError(ctx context.Context, id string, cause error) error {
	if cause == nil || apperrors.IsPaused(cause) {
		return nil
	}
	now := s.now()
	res, err := s.exec(ctx, `
		UPDATE extractions
		SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
		WHERE id = ?
	`, string(domain.StatusFailed), cause.Error(), now, now, id)
	if err != nil {
		return apperrors.NewPersistenceError("recording extraction failure", err)
	}
	return requireRow(res, id)
}

// AcquireLease takes the single-writer lease of a job. It succeeds when the
// lease is free, expired or already held by owner.
func (s *Store) AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	now := s.now()
	res, err := s.exec(ctx, `
		UPDATE extractions
		SET lease_owner = ?, lease_expires_at = ?
		WHERE id = ? AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires_at < ?)
	`, owner, now.Add(ttl).UnixMilli(), id, owner, now.UnixMilli())
	if err != nil {
		return apperrors.NewPersistenceError("acquiring extraction lease", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	job, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return apperrors.NewNotFoundError("extraction " + id)
	}
	return apperrors.NewConflictError("extraction " + id + " is being run by another worker")
}

// RenewLease extends a lease held by owner
func (s *Store) RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error {
	res, err := s.exec(ctx, `
		UPDATE extractions SET lease_expires_at = ? WHERE id = ? AND lease_owner = ?
	`, s.now().Add(ttl).UnixMilli(), id, owner)
	if err != nil {
		return apperrors.NewPersistenceError("renewing extraction lease", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewConflictError("lease on extraction " + id + " was lost")
	}
	return nil
}

// ReleaseLease drops the lease if owner still holds it
func (s *Store) ReleaseLease(ctx context.Context, id, owner string) error {
	_, err := s.exec(ctx, `
		UPDATE extractions SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND lease_owner = ?
	`, id, owner)
	if err != nil {
		return apperrors.NewPersistenceError("releasing extraction lease", err)
	}
	return nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return apperrors.NewNotFoundError("extraction " + id)
	}
	return nil
}
