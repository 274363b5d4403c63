package domain

import "time"

// GhostLogin replaces the author of records whose account was deleted
const GhostLogin = "ghost"

// ExportMode controls how a sink treats rows already stored for a repository
type ExportMode string

const (
	ModeAppend  ExportMode = "append"
	ModeReplace ExportMode = "replace"
)

// Label is a label attached to an issue or pull request
type Label struct {
	Name  string
	Color string
}

// Assignee is a user assigned to an issue or pull request
type Assignee struct {
	Login     string
	AvatarURL string
}

// Issue represents a GitHub issue
type Issue struct {
	ID            string
	Number        int
	Title         string
	Body          string
	Author        string
	State         string // "open" or "closed"
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ClosedAt      *time.Time
	CommentsCount int
	Labels        []Label
	Assignees     []Assignee
	ClosedBy      string
	StateReason   string
	Repository    RepositoryIdentifier
}

// PullRequest represents a GitHub pull request
type PullRequest struct {
	ID                string
	Number            int
	Title             string
	Body              string
	Author            string
	State             string // "open", "closed" or "merged"
	URL               string
	IsDraft           bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ClosedAt          *time.Time
	MergedAt          *time.Time
	Labels            []Label
	Assignees         []Assignee
	CommitsCount      int
	Additions         int
	Deletions         int
	ChangedFiles      int
	BaseRefName       string
	HeadRefName       string
	AssociatedIssueID string
	Repository        RepositoryIdentifier
}

// Comment is a comment on an issue or a pull request.
// Exactly one of IssueID and PullRequestID is set.
type Comment struct {
	ID            string
	Body          string
	Author        string
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	IssueID       string
	PullRequestID string
	Repository    RepositoryIdentifier
}

// Commit is a commit reached through a pull request
type Commit struct {
	SHA               string
	Message           string
	AuthorName        string
	AuthoredDate      time.Time
	CommitterName     string
	CommittedDate     time.Time
	URL               string
	Additions         int
	Deletions         int
	TotalChangedFiles int
	PullRequestID     string
	Repository        RepositoryIdentifier
}
