package extraction

import (
	"context"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage"
)

// PauseCheck is consulted before every page fetch. It returns
// apperrors.ErrPaused once the job has been paused.
type PauseCheck func(ctx context.Context) error

// StorePauseCheck reads the job status from the job store
func StorePauseCheck(store storage.JobStore, id string) PauseCheck {
	return func(ctx context.Context) error {
		job, err := store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return apperrors.NewNotFoundError("extraction " + id)
		}
		if job.Status == domain.StatusPaused {
			return apperrors.ErrPaused
		}
		return nil
	}
}

// NeverPause never interrupts a run
func NeverPause(context.Context) error { return nil }
