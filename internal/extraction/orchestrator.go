// Package extraction drives resumable extraction jobs: repository metadata,
// then issues, then pull requests, checkpointing after every stored page.
package extraction

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
	"github.com/kurihiro0119/github-issue-extractor/internal/events"
	"github.com/kurihiro0119/github-issue-extractor/internal/logger"
	"github.com/kurihiro0119/github-issue-extractor/internal/source"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage"
)

const (
	DefaultPageDelay = 500 * time.Millisecond
	DefaultLeaseTTL  = 2 * time.Minute
)

// Options tunes an Orchestrator. Zero values select the defaults.
type Options struct {
	// PageDelay is slept between two pages of the same phase. Negative
	// disables it.
	PageDelay time.Duration
	LeaseTTL  time.Duration
	// WorkerID prefixes the lease owner of every run of this orchestrator
	WorkerID  string
	Publisher events.Publisher
	Logger    *zap.Logger
	// PauseCheck builds the pause check of a job, StorePauseCheck when nil
	PauseCheck func(jobID string) PauseCheck
}

// Orchestrator runs extraction jobs and exposes their lifecycle operations
type Orchestrator struct {
	store      storage.JobStore
	sinks      storage.Sinks
	sources    source.Factory
	publisher  events.Publisher
	log        *zap.Logger
	pageDelay  time.Duration
	leaseTTL   time.Duration
	workerID   string
	pauseCheck func(jobID string) PauseCheck

	mu     sync.Mutex
	active map[string]struct{} // jobs with a run in this process

	runs       sync.WaitGroup
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// New creates an orchestrator writing job state to store and records to sinks
func New(store storage.JobStore, sinks storage.Sinks, sources source.Factory, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		sinks:      sinks,
		sources:    sources,
		publisher:  opts.Publisher,
		log:        opts.Logger,
		pageDelay:  opts.PageDelay,
		leaseTTL:   opts.LeaseTTL,
		workerID:   opts.WorkerID,
		pauseCheck: opts.PauseCheck,
		active:     make(map[string]struct{}),
	}
	if o.publisher == nil {
		o.publisher = events.NewNopPublisher()
	}
	if o.log == nil {
		o.log = logger.L()
	}
	if o.pageDelay == 0 {
		o.pageDelay = DefaultPageDelay
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = DefaultLeaseTTL
	}
	if o.workerID == "" {
		o.workerID = uuid.New().String()
	}
	if o.pauseCheck == nil {
		o.pauseCheck = func(id string) PauseCheck { return StorePauseCheck(store, id) }
	}
	o.runCtx, o.cancelRuns = context.WithCancel(context.Background())
	return o
}

// WorkerID returns the lease owner prefix of this orchestrator
func (o *Orchestrator) WorkerID() string {
	return o.workerID
}

// Create registers a pending job for owner/name
func (o *Orchestrator) Create(ctx context.Context, owner, name string) (*domain.Extraction, error) {
	repo, err := domain.NewRepositoryIdentifier(owner, name)
	if err != nil {
		return nil, err
	}
	job, err := o.store.Create(ctx, repo)
	if err != nil {
		return nil, err
	}
	o.log.Info("extraction created", zap.String("job_id", job.ID), zap.String("repo", repo.String()))
	o.publish(ctx, job, domain.StatusPending, nil)
	return job, nil
}

// Get returns a job or a NotFound error
func (o *Orchestrator) Get(ctx context.Context, id string) (*domain.Extraction, error) {
	job, err := o.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperrors.NewNotFoundError("extraction " + id)
	}
	return job, nil
}

// List returns every job, newest first
func (o *Orchestrator) List(ctx context.Context) ([]*domain.Extraction, error) {
	return o.store.FindAll(ctx)
}

// Start takes the lease of job id and launches its run in the background.
// Running and completed jobs, and jobs another run holds, are rejected with
// CONFLICT before any remote call.
func (o *Orchestrator) Start(ctx context.Context, id, token string) (*domain.Extraction, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.NewValidationError("access token is required")
	}
	job, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.StatusRunning:
		return nil, apperrors.NewConflictError("extraction " + id + " is already running")
	case domain.StatusCompleted:
		return nil, apperrors.NewConflictError("extraction " + id + " is already completed")
	}

	owner, err := o.claim(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	o.runs.Add(1)
	go func(job domain.Extraction) {
		defer o.runs.Done()
		if err := o.execute(o.runCtx, job.Repository, token, &job, owner); err != nil {
			o.log.Error("extraction run failed",
				zap.String("job_id", job.ID),
				zap.String("repo", job.Repository.String()),
				zap.Error(err))
		}
	}(*job)
	return job, nil
}

// Pause asks a running job to stop before its next page
func (o *Orchestrator) Pause(ctx context.Context, id string) (*domain.Extraction, error) {
	job, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.StatusRunning {
		return nil, apperrors.NewConflictError("only running extractions can be paused, " + id + " is " + string(job.Status))
	}
	if err := o.store.UpdateStatus(ctx, id, domain.StatusPaused); err != nil {
		return nil, err
	}
	job.Status = domain.StatusPaused
	o.log.Info("extraction paused", zap.String("job_id", id), zap.String("repo", job.Repository.String()))
	o.publish(ctx, job, domain.StatusPaused, nil)
	return job, nil
}

// Run executes the open job of repo in the foreground, creating one when
// none exists, and returns its final state
func (o *Orchestrator) Run(ctx context.Context, repo domain.RepositoryIdentifier, token string) (*domain.Extraction, error) {
	job, err := o.store.FindOrCreate(ctx, repo)
	if err != nil {
		return nil, err
	}
	if err := o.Execute(ctx, repo, token, job); err != nil {
		return job, err
	}
	return o.Get(context.WithoutCancel(ctx), job.ID)
}

// ClearRepository removes the issues, pull requests, comments and commits
// stored for repo
func (o *Orchestrator) ClearRepository(ctx context.Context, repo domain.RepositoryIdentifier) error {
	if err := o.sinks.Issues.ExportIssues(ctx, nil, repo, domain.ModeReplace); err != nil {
		return sinkError("issues", err)
	}
	if err := o.sinks.PullRequests.ExportPullRequests(ctx, nil, repo, domain.ModeReplace); err != nil {
		return sinkError("pull requests", err)
	}
	if err := o.sinks.Comments.ExportComments(ctx, nil, repo, domain.ModeReplace); err != nil {
		return sinkError("comments", err)
	}
	if err := o.sinks.Commits.ClearCommits(ctx, repo); err != nil {
		return sinkError("commits", err)
	}
	return nil
}

// Execute runs job to completion, to a pause or to a failure. A pause ends
// the run without error. Other failures mark the job failed and are returned.
func (o *Orchestrator) Execute(ctx context.Context, repo domain.RepositoryIdentifier, token string, job *domain.Extraction) error {
	owner, err := o.claim(ctx, job.ID)
	if err != nil {
		return err
	}
	return o.execute(ctx, repo, token, job, owner)
}

// claim reserves job id for a single run of this process and takes its
// lease under an owner unique to that run
func (o *Orchestrator) claim(ctx context.Context, id string) (string, error) {
	o.mu.Lock()
	if _, busy := o.active[id]; busy {
		o.mu.Unlock()
		return "", apperrors.NewConflictError("extraction " + id + " is already running")
	}
	o.active[id] = struct{}{}
	o.mu.Unlock()

	owner := o.workerID + "/" + uuid.New().String()
	if err := o.store.AcquireLease(ctx, id, owner, o.leaseTTL); err != nil {
		o.unclaim(id)
		return "", err
	}
	return owner, nil
}

func (o *Orchestrator) unclaim(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// execute runs job under a lease already held by owner and gives it back
// when the run ends
func (o *Orchestrator) execute(ctx context.Context, repo domain.RepositoryIdentifier, token string, job *domain.Extraction, owner string) error {
	log := o.log.With(zap.String("job_id", job.ID), zap.String("repo", repo.String()))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopHeartbeat := o.heartbeat(runCtx, cancel, job.ID, owner, log)
	defer func() {
		stopHeartbeat()
		if err := o.store.ReleaseLease(context.WithoutCancel(ctx), job.ID, owner); err != nil {
			log.Warn("failed to release extraction lease", zap.Error(err))
		}
		o.unclaim(job.ID)
	}()

	r := &run{
		o:     o,
		job:   job,
		repo:  repo,
		owner: owner,
		pause: o.pauseCheck(job.ID),
		log:   log,
	}
	err := r.execute(runCtx, token)
	if cause := context.Cause(runCtx); err != nil && ctx.Err() == nil && apperrors.IsConflict(cause) {
		err = cause
	}
	switch {
	case err == nil:
		return nil
	case apperrors.IsPaused(err):
		log.Info("extraction stopped on pause",
			zap.Int("issues_fetched", job.TotalIssuesFetched),
			zap.Int("prs_fetched", job.TotalPRsFetched))
		job.Status = domain.StatusPaused
		return nil
	case apperrors.IsConflict(err):
		// the lease moved to another worker which now owns the job state
		log.Warn("extraction lease lost", zap.Error(err))
		return err
	}

	bg := context.WithoutCancel(ctx)
	if logErr := o.store.LogError(bg, job.ID, err); logErr != nil {
		log.Error("failed to record extraction failure", zap.Error(logErr))
	}
	msg := err.Error()
	job.Status = domain.StatusFailed
	job.ErrorMessage = &msg
	log.Error("extraction failed", zap.String("kind", string(apperrors.KindOf(err))), zap.Error(err))
	o.publish(bg, job, domain.StatusFailed, err)
	return err
}

// heartbeat renews the lease every third of its TTL until stop is called,
// covering long waits between checkpoints. Losing the lease cancels ctx with
// the CONFLICT as cause.
func (o *Orchestrator) heartbeat(ctx context.Context, lost context.CancelCauseFunc, id, owner string, log *zap.Logger) (stop func()) {
	interval := max(o.leaseTTL/3, 10*time.Millisecond)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := o.store.RenewLease(ctx, id, owner, o.leaseTTL)
				switch {
				case err == nil:
				case apperrors.IsConflict(err):
					lost(err)
					return
				default:
					log.Warn("failed to renew extraction lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (r *run) execute(ctx context.Context, token string) error {
	o, job := r.o, r.job

	src, err := o.sources(token)
	if err != nil {
		return err
	}

	info, err := src.RepositoryInfo(ctx, r.repo)
	if err != nil {
		return err
	}
	if err := o.sinks.Repository.ExportRepository(ctx, info); err != nil {
		return sinkError("repository", err)
	}

	if err := o.store.UpdateStatus(ctx, job.ID, domain.StatusRunning); err != nil {
		return err
	}
	job.Status = domain.StatusRunning
	job.ErrorMessage = nil
	job.FinishedAt = nil
	r.log.Info("extraction running",
		zap.Int("issues_expected", info.TotalIssuesCount),
		zap.Int("prs_expected", info.TotalPullRequestsCount))
	o.publish(ctx, job, domain.StatusRunning, nil)

	if err := r.prepare(ctx, info); err != nil {
		return err
	}

	if err := r.issuesPhase(ctx, src); err != nil {
		return err
	}

	if err := r.setStep(ctx, domain.StepPullRequests, nil); err != nil {
		return err
	}
	if err := r.pullRequestsPhase(ctx, src); err != nil {
		return err
	}

	full := 100
	if err := r.setStep(ctx, domain.StepCompleted, &full); err != nil {
		return err
	}
	if err := o.store.UpdateStatus(ctx, job.ID, domain.StatusCompleted); err != nil {
		return err
	}
	job.Status = domain.StatusCompleted
	r.log.Info("extraction completed",
		zap.Int("issues_fetched", job.TotalIssuesFetched),
		zap.Int("prs_fetched", job.TotalPRsFetched))
	o.publish(ctx, job, domain.StatusCompleted, nil)
	return nil
}

// prepare snapshots the expected totals on the first run of a job. Later
// runs keep them so progress stays anchored to the same denominator.
func (r *run) prepare(ctx context.Context, info *domain.RepositoryInfo) error {
	if r.job.TotalIssuesExpected == nil {
		issues, prs := info.TotalIssuesCount, info.TotalPullRequestsCount
		step := domain.StepIssues
		zero := 0
		update := domain.ProgressUpdate{
			CurrentStep:         &step,
			ProgressPercentage:  &zero,
			TotalIssuesExpected: &issues,
			TotalPRsExpected:    &prs,
		}
		if err := r.o.store.UpdateProgress(ctx, r.job.ID, update); err != nil {
			return err
		}
		update.Apply(r.job)
		return nil
	}
	if r.job.CurrentStep == nil {
		return r.setStep(ctx, domain.StepIssues, nil)
	}
	return nil
}

func (r *run) setStep(ctx context.Context, step domain.ExtractionStep, progress *int) error {
	update := domain.ProgressUpdate{CurrentStep: &step, ProgressPercentage: progress}
	if err := r.o.store.UpdateProgress(ctx, r.job.ID, update); err != nil {
		return err
	}
	update.Apply(r.job)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, job *domain.Extraction, status domain.ExtractionStatus, cause error) {
	if err := o.publisher.Publish(ctx, events.NewJobEvent(job, status, cause)); err != nil {
		o.log.Warn("failed to publish extraction event",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// Shutdown waits for background runs. When ctx ends first the runs are
// cancelled, which leaves their jobs failed and resumable.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancelRuns()
		return nil
	case <-ctx.Done():
		o.cancelRuns()
		<-done
		return ctx.Err()
	}
}
