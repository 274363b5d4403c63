package source

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/shurcooL/githubv4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
	"github.com/kurihiro0119/github-issue-extractor/internal/logger"
)

const (
	IssuePageSize       = 100
	PullRequestPageSize = 50
)

// Options configures a GitHub source
type Options struct {
	// APIURL is the REST base URL, empty for api.github.com
	APIURL string
	// GraphQLURL is the GraphQL endpoint, empty for api.github.com/graphql
	GraphQLURL        string
	RequestsPerSecond float64
	// Transport is the base round tripper, http.DefaultTransport when nil
	Transport http.RoundTripper
}

// githubSource implements Source on the GitHub GraphQL and REST APIs
type githubSource struct {
	graphql     *githubv4.Client
	rest        *github.Client
	rateLimiter RateLimiter
}

// NewFactory returns a Factory building GitHub sources with opts
func NewFactory(opts Options) Factory {
	return func(token string) (Source, error) {
		return NewGitHubSource(token, opts)
	}
}

// NewGitHubSource creates a source authenticated with token
func NewGitHubSource(token string, opts Options) (Source, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.NewValidationError("access token is required")
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &statusTransport{
			base: &oauth2.Transport{Source: ts, Base: base},
		},
	}

	var gql *githubv4.Client
	if opts.GraphQLURL != "" {
		gql = githubv4.NewEnterpriseClient(opts.GraphQLURL, httpClient)
	} else {
		gql = githubv4.NewClient(httpClient)
	}

	rest := github.NewClient(httpClient)
	if opts.APIURL != "" {
		apiURL := opts.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid GitHub API URL: " + err.Error())
		}
		rest.BaseURL = u
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1.2
	}

	return &githubSource{
		graphql:     gql,
		rest:        rest,
		rateLimiter: NewRateLimiter(rps),
	}, nil
}

// RepositoryInfo reads repository metadata over REST and the issue and pull
// request totals over GraphQL
func (s *githubSource) RepositoryInfo(ctx context.Context, repo domain.RepositoryIdentifier) (*domain.RepositoryInfo, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, classify(err, repo, "waiting for rate limit")
	}
	r, resp, err := s.rest.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, classify(err, repo, "fetching repository "+repo.String())
	}
	s.updateRateLimitFromResponse(resp)

	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, classify(err, repo, "waiting for rate limit")
	}
	var q countsQuery
	if err := s.graphql.Query(ctx, &q, map[string]any{
		"owner": githubv4.String(repo.Owner),
		"name":  githubv4.String(repo.Name),
	}); err != nil {
		return nil, classify(err, repo, "counting issues of "+repo.String())
	}
	s.rateLimiter.UpdateLimit(int(q.RateLimit.Remaining), q.RateLimit.ResetAt.Time)

	return &domain.RepositoryInfo{
		Owner:                  repo.Owner,
		Name:                   repo.Name,
		Description:            r.GetDescription(),
		URL:                    r.GetHTMLURL(),
		License:                r.GetLicense().GetName(),
		Language:               r.GetLanguage(),
		Stars:                  r.GetStargazersCount(),
		Forks:                  r.GetForksCount(),
		OpenIssuesCount:        r.GetOpenIssuesCount(),
		TotalIssuesCount:       int(q.Repository.Issues.TotalCount),
		TotalPullRequestsCount: int(q.Repository.PullRequests.TotalCount),
		CreatedAt:              r.GetCreatedAt().Time,
		UpdatedAt:              r.GetUpdatedAt().Time,
	}, nil
}

// IssuePages walks issues in ascending creation order
func (s *githubSource) IssuePages(ctx context.Context, repo domain.RepositoryIdentifier, after *string) iter.Seq2[*IssuePage, error] {
	return func(yield func(*IssuePage, error) bool) {
		cursor := after
		for {
			page, err := s.fetchIssuePage(ctx, repo, cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if !page.HasNextPage || len(page.Issues) == 0 {
				return
			}
			next := page.EndCursor
			cursor = &next
		}
	}
}

func (s *githubSource) fetchIssuePage(ctx context.Context, repo domain.RepositoryIdentifier, cursor *string) (*IssuePage, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, classify(err, repo, "waiting for rate limit")
	}

	var q issuesQuery
	err := s.graphql.Query(ctx, &q, map[string]any{
		"owner":    githubv4.String(repo.Owner),
		"name":     githubv4.String(repo.Name),
		"pageSize": githubv4.Int(IssuePageSize),
		"cursor":   (*githubv4.String)(cursor),
		"states":   []githubv4.IssueState{githubv4.IssueStateOpen, githubv4.IssueStateClosed},
		"orderBy":  githubv4.IssueOrder{Field: githubv4.IssueOrderFieldCreatedAt, Direction: githubv4.OrderDirectionAsc},
	})
	if err != nil {
		return nil, classify(err, repo, "fetching issues of "+repo.String())
	}
	s.rateLimiter.UpdateLimit(int(q.RateLimit.Remaining), q.RateLimit.ResetAt.Time)

	conn := q.Repository.Issues
	page := &IssuePage{
		Issues:      make([]*domain.Issue, 0, len(conn.Nodes)),
		EndCursor:   string(conn.PageInfo.EndCursor),
		HasNextPage: bool(conn.PageInfo.HasNextPage),
	}
	for _, n := range conn.Nodes {
		issue, comments := mapIssue(n, repo)
		page.Issues = append(page.Issues, issue)
		page.Comments = append(page.Comments, comments...)
	}

	logger.Debug("fetched issue page",
		zap.String("repo", repo.String()),
		zap.Int("issues", len(page.Issues)),
		zap.Int("comments", len(page.Comments)),
		zap.Int("rate_remaining", int(q.RateLimit.Remaining)))
	return page, nil
}

// PullRequestPages walks pull requests in ascending creation order
func (s *githubSource) PullRequestPages(ctx context.Context, repo domain.RepositoryIdentifier, after *string) iter.Seq2[*PullRequestPage, error] {
	return func(yield func(*PullRequestPage, error) bool) {
		cursor := after
		for {
			page, err := s.fetchPullRequestPage(ctx, repo, cursor)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			if !page.HasNextPage || len(page.PullRequests) == 0 {
				return
			}
			next := page.EndCursor
			cursor = &next
		}
	}
}

func (s *githubSource) fetchPullRequestPage(ctx context.Context, repo domain.RepositoryIdentifier, cursor *string) (*PullRequestPage, error) {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return nil, classify(err, repo, "waiting for rate limit")
	}

	var q pullRequestsQuery
	err := s.graphql.Query(ctx, &q, map[string]any{
		"owner":    githubv4.String(repo.Owner),
		"name":     githubv4.String(repo.Name),
		"pageSize": githubv4.Int(PullRequestPageSize),
		"cursor":   (*githubv4.String)(cursor),
		"states":   []githubv4.PullRequestState{githubv4.PullRequestStateOpen, githubv4.PullRequestStateClosed, githubv4.PullRequestStateMerged},
		"orderBy":  githubv4.IssueOrder{Field: githubv4.IssueOrderFieldCreatedAt, Direction: githubv4.OrderDirectionAsc},
	})
	if err != nil {
		return nil, classify(err, repo, "fetching pull requests of "+repo.String())
	}
	s.rateLimiter.UpdateLimit(int(q.RateLimit.Remaining), q.RateLimit.ResetAt.Time)

	conn := q.Repository.PullRequests
	page := &PullRequestPage{
		PullRequests: make([]*domain.PullRequest, 0, len(conn.Nodes)),
		EndCursor:    string(conn.PageInfo.EndCursor),
		HasNextPage:  bool(conn.PageInfo.HasNextPage),
	}
	for _, n := range conn.Nodes {
		pr, comments, commits := mapPullRequest(n, repo)
		page.PullRequests = append(page.PullRequests, pr)
		page.Comments = append(page.Comments, comments...)
		page.Commits = append(page.Commits, commits...)
	}

	logger.Debug("fetched pull request page",
		zap.String("repo", repo.String()),
		zap.Int("pull_requests", len(page.PullRequests)),
		zap.Int("commits", len(page.Commits)),
		zap.Int("rate_remaining", int(q.RateLimit.Remaining)))
	return page, nil
}

// updateRateLimitFromResponse updates rate limit info from the REST response
func (s *githubSource) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 {
		s.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}
