package extraction

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
	"github.com/kurihiro0119/github-issue-extractor/internal/source"
)

// drainPages pulls pages from seq and hands each to handle. It stops when the
// sequence ends, when handle reports that no page follows, or on the first
// error. check runs before every fetch and delay is slept between pages.
func drainPages[P any](ctx context.Context, seq iter.Seq2[P, error], check PauseCheck, delay time.Duration, handle func(context.Context, P) (bool, error)) error {
	next, stop := iter.Pull2(seq)
	defer stop()

	for {
		if err := check(ctx); err != nil {
			return err
		}
		page, err, ok := next()
		if !ok {
			return nil
		}
		if err != nil {
			return err
		}

		more, err := handle(ctx, page)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperrors.NewTransientError("extraction interrupted", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// run carries the state of one execution of a job
type run struct {
	o     *Orchestrator
	job   *domain.Extraction
	repo  domain.RepositoryIdentifier
	owner string // lease owner of this run
	pause PauseCheck
	log   *zap.Logger
}

func (r *run) issuesPhase(ctx context.Context, src source.Source) error {
	pages := src.IssuePages(ctx, r.repo, r.job.LastIssueCursor)
	return drainPages(ctx, pages, r.pause, r.o.pageDelay, r.sinkIssuePage)
}

func (r *run) pullRequestsPhase(ctx context.Context, src source.Source) error {
	pages := src.PullRequestPages(ctx, r.repo, r.job.LastPRCursor)
	return drainPages(ctx, pages, r.pause, r.o.pageDelay, r.sinkPullRequestPage)
}

func (r *run) sinkIssuePage(ctx context.Context, page *source.IssuePage) (bool, error) {
	if len(page.Issues) == 0 {
		return false, nil
	}
	sinks := r.o.sinks

	if err := sinks.Issues.ExportIssues(ctx, page.Issues, r.repo, domain.ModeAppend); err != nil {
		return false, sinkError("issues", err)
	}
	if len(page.Comments) > 0 {
		if err := sinks.Comments.ExportComments(ctx, page.Comments, r.repo, domain.ModeAppend); err != nil {
			return false, sinkError("issue comments", err)
		}
	}
	if err := sinks.Labels.ExportIssueLabels(ctx, page.Issues); err != nil {
		return false, sinkError("issue labels", err)
	}

	fetched := r.job.TotalIssuesFetched + len(page.Issues)
	cursor := page.EndCursor
	err := r.checkpoint(ctx, domain.ProgressUpdate{
		LastIssueCursor:    &cursor,
		TotalIssuesFetched: &fetched,
	})
	if err != nil {
		return false, err
	}

	r.log.Info("issue page stored",
		zap.String("phase", string(domain.StepIssues)),
		zap.String("cursor", cursor),
		zap.Int("fetched", fetched),
		zap.Int("progress", r.job.ProgressPercentage))
	return page.HasNextPage, nil
}

func (r *run) sinkPullRequestPage(ctx context.Context, page *source.PullRequestPage) (bool, error) {
	if len(page.PullRequests) == 0 {
		return false, nil
	}
	sinks := r.o.sinks

	if err := sinks.PullRequests.ExportPullRequests(ctx, page.PullRequests, r.repo, domain.ModeAppend); err != nil {
		return false, sinkError("pull requests", err)
	}
	if len(page.Comments) > 0 {
		if err := sinks.Comments.ExportComments(ctx, page.Comments, r.repo, domain.ModeAppend); err != nil {
			return false, sinkError("pull request comments", err)
		}
	}
	if len(page.Commits) > 0 {
		if err := sinks.Commits.ExportCommits(ctx, page.Commits, r.repo); err != nil {
			return false, sinkError("commits", err)
		}
	}
	if err := sinks.Labels.ExportPullRequestLabels(ctx, page.PullRequests); err != nil {
		return false, sinkError("pull request labels", err)
	}

	fetched := r.job.TotalPRsFetched + len(page.PullRequests)
	cursor := page.EndCursor
	err := r.checkpoint(ctx, domain.ProgressUpdate{
		LastPRCursor:    &cursor,
		TotalPRsFetched: &fetched,
	})
	if err != nil {
		return false, err
	}

	r.log.Info("pull request page stored",
		zap.String("phase", string(domain.StepPullRequests)),
		zap.String("cursor", cursor),
		zap.Int("fetched", fetched),
		zap.Int("progress", r.job.ProgressPercentage))
	return page.HasNextPage, nil
}

// checkpoint persists update with the recomputed progress in one write,
// extends the lease and then mirrors the update on the in-memory job
func (r *run) checkpoint(ctx context.Context, update domain.ProgressUpdate) error {
	preview := *r.job
	update.Apply(&preview)
	progress := preview.Progress()
	update.ProgressPercentage = &progress

	if err := r.o.store.UpdateProgress(ctx, r.job.ID, update); err != nil {
		return err
	}
	if err := r.o.store.RenewLease(ctx, r.job.ID, r.owner, r.o.leaseTTL); err != nil {
		return err
	}
	update.Apply(r.job)
	return nil
}

// sinkError tags untagged sink failures as persistence errors
func sinkError(what string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewPersistenceError("storing "+what, err)
}
