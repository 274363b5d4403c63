// Package source reads repositories, issues and pull requests from GitHub as
// pull-style page sequences.
package source

import (
	"context"
	"iter"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

// IssuePage is one page of issues with the comments carried on them
type IssuePage struct {
	Issues      []*domain.Issue
	Comments    []*domain.Comment
	EndCursor   string
	HasNextPage bool
}

// PullRequestPage is one page of pull requests with their comments and commits
type PullRequestPage struct {
	PullRequests []*domain.PullRequest
	Comments     []*domain.Comment
	Commits      []*domain.Commit
	EndCursor    string
	HasNextPage  bool
}

// Source reads a repository from the remote provider. Page sequences start
// after the given cursor (nil for the start of the stream), yield at most one
// error and stop after it. Errors are tagged with the internal/errors kinds.
type Source interface {
	RepositoryInfo(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.RepositoryInfo, error)
	IssuePages(ctx context.Context, repo domain.RepositoryIdentifier, after *string) iter.Seq2[*IssuePage, error]
	PullRequestPages(ctx context.Context, repo domain.RepositoryIdentifier, after *string) iter.Seq2[*PullRequestPage, error]
}

// Factory builds a Source authenticated with token
type Factory func(token string) (Source, error)
