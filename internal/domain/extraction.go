package domain

import "time"

// ExtractionStatus is the lifecycle state of an extraction job
type ExtractionStatus string

const (
	StatusPending   ExtractionStatus = "pending"
	StatusRunning   ExtractionStatus = "running"
	StatusPaused    ExtractionStatus = "paused"
	StatusCompleted ExtractionStatus = "completed"
	StatusFailed    ExtractionStatus = "failed"
)

// Resumable reports whether a job in this status is picked up again by FindOrCreate
func (s ExtractionStatus) Resumable() bool {
	return s == StatusPending || s == StatusPaused || s == StatusRunning
}

// ExtractionStep is the phase a job is in. Informational only.
type ExtractionStep string

const (
	StepIssues       ExtractionStep = "issues"
	StepPullRequests ExtractionStep = "pull_requests"
	StepCompleted    ExtractionStep = "completed"
)

// Extraction represents a resumable extraction job for one repository
type Extraction struct {
	ID                  string               `json:"id"`
	Repository          RepositoryIdentifier `json:"repository"`
	Status              ExtractionStatus     `json:"status"`
	CurrentStep         *ExtractionStep      `json:"current_step"`
	LastIssueCursor     *string              `json:"last_issue_cursor"`
	LastPRCursor        *string              `json:"last_pr_cursor"`
	TotalIssuesFetched  int                  `json:"total_issues_fetched"`
	TotalPRsFetched     int                  `json:"total_prs_fetched"`
	TotalIssuesExpected *int                 `json:"total_issues_expected"`
	TotalPRsExpected    *int                 `json:"total_prs_expected"`
	ProgressPercentage  int                  `json:"progress_percentage"`
	ErrorMessage        *string              `json:"error_message"`
	StartedAt           *time.Time           `json:"started_at"`
	FinishedAt          *time.Time           `json:"finished_at"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// ProgressUpdate is a partial update of the mutable progress fields of a job.
// Nil fields are left untouched.
type ProgressUpdate struct {
	CurrentStep         *ExtractionStep
	ProgressPercentage  *int
	LastIssueCursor     *string
	LastPRCursor        *string
	TotalIssuesFetched  *int
	TotalPRsFetched     *int
	TotalIssuesExpected *int
	TotalPRsExpected    *int
}

// IsEmpty reports whether the update sets no field
func (u ProgressUpdate) IsEmpty() bool {
	return u == ProgressUpdate{}
}

// Apply merges the update into the in-memory job
func (u ProgressUpdate) Apply(job *Extraction) {
	if u.CurrentStep != nil {
		step := *u.CurrentStep
		job.CurrentStep = &step
	}
	if u.ProgressPercentage != nil {
		job.ProgressPercentage = *u.ProgressPercentage
	}
	if u.LastIssueCursor != nil {
		cursor := *u.LastIssueCursor
		job.LastIssueCursor = &cursor
	}
	if u.LastPRCursor != nil {
		cursor := *u.LastPRCursor
		job.LastPRCursor = &cursor
	}
	if u.TotalIssuesFetched != nil {
		job.TotalIssuesFetched = *u.TotalIssuesFetched
	}
	if u.TotalPRsFetched != nil {
		job.TotalPRsFetched = *u.TotalPRsFetched
	}
	if u.TotalIssuesExpected != nil {
		n := *u.TotalIssuesExpected
		job.TotalIssuesExpected = &n
	}
	if u.TotalPRsExpected != nil {
		n := *u.TotalPRsExpected
		job.TotalPRsExpected = &n
	}
}

// Progress computes the combined completion percentage across both phases.
// It stays at 0 until a non-zero expected total is known.
func (e *Extraction) Progress() int {
	expected := 0
	if e.TotalIssuesExpected != nil {
		expected += *e.TotalIssuesExpected
	}
	if e.TotalPRsExpected != nil {
		expected += *e.TotalPRsExpected
	}
	return ComputeProgress(e.TotalIssuesFetched+e.TotalPRsFetched, expected)
}

// ComputeProgress returns floor(min(100, 100*fetched/expected))
func ComputeProgress(fetched, expected int) int {
	if expected <= 0 || fetched <= 0 {
		return 0
	}
	pct := fetched * 100 / expected
	if pct > 100 {
		return 100
	}
	return pct
}
