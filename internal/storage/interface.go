package storage

import (
	"context"
	"time"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

// JobStore persists the lifecycle state of extraction jobs
type JobStore interface {
	Create(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.Extraction, error)
	// FindByID returns nil, nil when no job has that id
	FindByID(ctx context.Context, id string) (*domain.Extraction, error)
	// FindOrCreate returns the most recent pending, paused or running job of
	// repo, or a new pending one
	FindOrCreate(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.Extraction, error)
	FindAll(ctx context.Context) ([]*domain.Extraction, error)

	UpdateStatus(ctx context.Context, id string, status domain.ExtractionStatus) error
	UpdateProgress(ctx context.Context, id string, update domain.ProgressUpdate) error
	// LogError marks the job failed with err's message. It does nothing for
	// the pause signal.
	LogError(ctx context.Context, id string, err error) error

	// Single-writer lease on a job row
	AcquireLease(ctx context.Context, id, owner string, ttl time.Duration) error
	RenewLease(ctx context.Context, id, owner string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, id, owner string) error
}

// RepositorySink stores repository metadata
type RepositorySink interface {
	ExportRepository(ctx context.Context, info *domain.RepositoryInfo) error
}

// IssueSink stores a batch of issues in one transaction
type IssueSink interface {
	ExportIssues(ctx context.Context, issues []*domain.Issue, repo domain.RepositoryIdentifier, mode domain.ExportMode) error
}

// PullRequestSink stores a batch of pull requests in one transaction
type PullRequestSink interface {
	ExportPullRequests(ctx context.Context, prs []*domain.PullRequest, repo domain.RepositoryIdentifier, mode domain.ExportMode) error
}

// CommentSink stores a batch of comments in one transaction
type CommentSink interface {
	ExportComments(ctx context.Context, comments []*domain.Comment, repo domain.RepositoryIdentifier, mode domain.ExportMode) error
}

// CommitSink stores a batch of commits in one transaction
type CommitSink interface {
	ExportCommits(ctx context.Context, commits []*domain.Commit, repo domain.RepositoryIdentifier) error
	// ClearCommits removes every commit stored for repo
	ClearCommits(ctx context.Context, repo domain.RepositoryIdentifier) error
}

// LabelSink replaces the label associations of every parent in the batch
type LabelSink interface {
	ExportIssueLabels(ctx context.Context, issues []*domain.Issue) error
	ExportPullRequestLabels(ctx context.Context, prs []*domain.PullRequest) error
}

// Sinks bundles the destinations a run writes to
type Sinks struct {
	Repository   RepositorySink
	Issues       IssueSink
	PullRequests PullRequestSink
	Comments     CommentSink
	Commits      CommitSink
	Labels       LabelSink
}

// Storage is the abstract interface for the persistence layer
type Storage interface {
	JobStore
	RepositorySink
	IssueSink
	PullRequestSink
	CommentSink
	CommitSink
	LabelSink

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

// SinksOf returns the sinks backed by s
func SinksOf(s Storage) Sinks {
	return Sinks{
		Repository:   s,
		Issues:       s,
		PullRequests: s,
		Comments:     s,
		Commits:      s,
		Labels:       s,
	}
}
