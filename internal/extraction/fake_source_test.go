package extraction

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	"github.com/kurihiro0119/github-issue-extractor/internal/source"
)

// fakeSource serves prebuilt pages. The cursor of page i is "<kind>-<i+1>"
// so a run can be restarted from any checkpoint.
type fakeSource struct {
	info    *domain.RepositoryInfo
	infoErr error

	issuePages []*source.IssuePage
	prPages    []*source.PullRequestPage

	// failIssueFetch makes the fetch of that page index fail once with err
	failIssueFetch int
	failErr        error

	// infoGate, when set, holds RepositoryInfo until it is closed
	infoGate chan struct{}

	mu          sync.Mutex
	infoCalls   int
	issueStarts []string
	prStarts    []string
	fetched     []string
}

func newFakeSource(repo domain.RepositoryIdentifier, issues, issuesPerPage, prs, prsPerPage int) *fakeSource {
	return &fakeSource{
		info: &domain.RepositoryInfo{
			Owner:                  repo.Owner,
			Name:                   repo.Name,
			TotalIssuesCount:       issues,
			TotalPullRequestsCount: prs,
		},
		issuePages:     buildIssuePages(repo, issues, issuesPerPage),
		prPages:        buildPullRequestPages(repo, prs, prsPerPage),
		failIssueFetch: -1,
	}
}

func (f *fakeSource) factory() source.Factory {
	return func(token string) (source.Source, error) { return f, nil }
}

func (f *fakeSource) RepositoryInfo(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.RepositoryInfo, error) {
	f.mu.Lock()
	f.infoCalls++
	gate := f.infoGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeSource) infoCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

func (f *fakeSource) IssuePages(ctx context.Context, repo domain.RepositoryIdentifier, after *string) iter.Seq2[*source.IssuePage, error] {
	start := f.recordStart(&f.issueStarts, after)
	return func(yield func(*source.IssuePage, error) bool) {
		for i := start; i < len(f.issuePages); i++ {
			if f.takeFailure(i) {
				yield(nil, f.failErr)
				return
			}
			f.recordFetch(fmt.Sprintf("issues-%d", i))
			if !yield(f.issuePages[i], nil) {
				return
			}
			if !f.issuePages[i].HasNextPage {
				return
			}
		}
	}
}

func (f *fakeSource) PullRequestPages(ctx context.Context, repo domain.RepositoryIdentifier, after *string) iter.Seq2[*source.PullRequestPage, error] {
	start := f.recordStart(&f.prStarts, after)
	return func(yield func(*source.PullRequestPage, error) bool) {
		for i := start; i < len(f.prPages); i++ {
			f.recordFetch(fmt.Sprintf("prs-%d", i))
			if !yield(f.prPages[i], nil) {
				return
			}
			if !f.prPages[i].HasNextPage {
				return
			}
		}
	}
}

func (f *fakeSource) recordStart(starts *[]string, after *string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if after == nil {
		*starts = append(*starts, "")
		return 0
	}
	*starts = append(*starts, *after)
	_, n, _ := strings.Cut(*after, "-")
	i, _ := strconv.Atoi(n)
	return i
}

func (f *fakeSource) recordFetch(what string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, what)
}

func (f *fakeSource) takeFailure(i int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i != f.failIssueFetch {
		return false
	}
	f.failIssueFetch = -1
	return true
}

func (f *fakeSource) fetches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func buildIssuePages(repo domain.RepositoryIdentifier, total, perPage int) []*source.IssuePage {
	var pages []*source.IssuePage
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for n := 1; n <= total; n += perPage {
		page := &source.IssuePage{}
		for i := n; i < n+perPage && i <= total; i++ {
			issue := &domain.Issue{
				ID:         fmt.Sprintf("I_%d", i),
				Number:     i,
				Title:      fmt.Sprintf("issue %d", i),
				Author:     "alice",
				State:      "open",
				CreatedAt:  created.Add(time.Duration(i) * time.Minute),
				UpdatedAt:  created.Add(time.Duration(i) * time.Minute),
				Labels:     []domain.Label{{Name: "bug", Color: "d73a4a"}},
				Repository: repo,
			}
			page.Issues = append(page.Issues, issue)
			page.Comments = append(page.Comments, &domain.Comment{
				ID:         fmt.Sprintf("IC_%d", i),
				Body:       "+1",
				Author:     "bob",
				CreatedAt:  issue.CreatedAt,
				UpdatedAt:  issue.CreatedAt,
				IssueID:    issue.ID,
				Repository: repo,
			})
		}
		pages = append(pages, page)
	}
	for i, page := range pages {
		page.EndCursor = fmt.Sprintf("issues-%d", i+1)
		page.HasNextPage = i < len(pages)-1
	}
	return pages
}

func buildPullRequestPages(repo domain.RepositoryIdentifier, total, perPage int) []*source.PullRequestPage {
	var pages []*source.PullRequestPage
	created := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for n := 1; n <= total; n += perPage {
		page := &source.PullRequestPage{}
		for i := n; i < n+perPage && i <= total; i++ {
			pr := &domain.PullRequest{
				ID:         fmt.Sprintf("PR_%d", i),
				Number:     1000 + i,
				Title:      fmt.Sprintf("pull request %d", i),
				Author:     "carol",
				State:      "merged",
				CreatedAt:  created.Add(time.Duration(i) * time.Minute),
				UpdatedAt:  created.Add(time.Duration(i) * time.Minute),
				Labels:     []domain.Label{{Name: "enhancement", Color: "a2eeef"}},
				Repository: repo,
			}
			page.PullRequests = append(page.PullRequests, pr)
			page.Commits = append(page.Commits, &domain.Commit{
				SHA:           fmt.Sprintf("%040d", i),
				Message:       "change",
				AuthorName:    "Carol",
				PullRequestID: pr.ID,
				Repository:    repo,
			})
		}
		pages = append(pages, page)
	}
	for i, page := range pages {
		page.EndCursor = fmt.Sprintf("prs-%d", i+1)
		page.HasNextPage = i < len(pages)-1
	}
	return pages
}
