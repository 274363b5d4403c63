package storage

import (
	"context"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

type issueFanOut []IssueSink

// FanOutIssues returns a sink that exports every batch to each sink in order.
// The first failure stops the fan-out.
func FanOutIssues(sinks ...IssueSink) IssueSink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return issueFanOut(sinks)
}

func (f issueFanOut) ExportIssues(ctx context.Context, issues []*domain.Issue, repo domain.RepositoryIdentifier, mode domain.ExportMode) error {
	for _, s := range f {
		if err := s.ExportIssues(ctx, issues, repo, mode); err != nil {
			return err
		}
	}
	return nil
}
