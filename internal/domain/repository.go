package domain

import (
	"strings"
	"time"

	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
)

// RepositoryIdentifier identifies a GitHub repository by owner and name
type RepositoryIdentifier struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// NewRepositoryIdentifier validates owner and name and builds an identifier
func NewRepositoryIdentifier(owner, name string) (RepositoryIdentifier, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if owner == "" || name == "" {
		return RepositoryIdentifier{}, apperrors.NewValidationError("repository owner and name are required")
	}
	return RepositoryIdentifier{Owner: owner, Name: name}, nil
}

// ParseRepositoryIdentifier parses the "owner/name" form
func ParseRepositoryIdentifier(s string) (RepositoryIdentifier, error) {
	owner, name, ok := strings.Cut(s, "/")
	if !ok {
		return RepositoryIdentifier{}, apperrors.NewValidationError("repository must be in owner/name form")
	}
	return NewRepositoryIdentifier(owner, name)
}

func (r RepositoryIdentifier) String() string {
	return r.Owner + "/" + r.Name
}

// RepositoryInfo is the repository metadata captured at the start of a run
type RepositoryInfo struct {
	Owner                  string
	Name                   string
	Description            string
	URL                    string
	License                string
	Language               string
	Stars                  int
	Forks                  int
	OpenIssuesCount        int
	TotalIssuesCount       int
	TotalPullRequestsCount int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Identifier returns the identifier of the repository
func (r *RepositoryInfo) Identifier() RepositoryIdentifier {
	return RepositoryIdentifier{Owner: r.Owner, Name: r.Name}
}
