package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// fakeGitHub serves canned GraphQL and REST responses and records the
// GraphQL variables it received
type fakeGitHub struct {
	t      *testing.T
	mu     sync.Mutex
	vars   []map[string]any
	status int
	handle func(req graphqlRequest) string
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	if r.URL.Path == "/repos/octo/hello" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "hello",
			"description": "demo repository",
			"html_url": "https://github.com/octo/hello",
			"language": "Go",
			"stargazers_count": 42,
			"forks_count": 7,
			"open_issues_count": 3,
			"license": {"name": "MIT License"},
			"created_at": "2020-01-01T00:00:00Z",
			"updated_at": "2024-01-01T00:00:00Z"
		}`))
		return
	}

	var req graphqlRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	f.mu.Lock()
	f.vars = append(f.vars, req.Variables)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(f.handle(req)))
}

func newTestSource(t *testing.T, f *fakeGitHub) Source {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	src, err := NewGitHubSource("test-token", Options{
		APIURL:            srv.URL + "/",
		GraphQLURL:        srv.URL + "/graphql",
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return src
}

const rateLimitJSON = `"rateLimit": {"limit": 5000, "cost": 1, "remaining": 4999, "resetAt": "2030-01-01T00:00:00Z"}`

func issuePageJSON(cursor string, hasNext bool, number int) string {
	return `{"data": {` + rateLimitJSON + `, "repository": {"issues": {
		"pageInfo": {"endCursor": "` + cursor + `", "hasNextPage": ` + boolJSON(hasNext) + `},
		"nodes": [{
			"id": "I_` + cursor + `",
			"number": ` + itoa(number) + `,
			"title": "Crash on start",
			"body": "steps",
			"state": "CLOSED",
			"stateReason": "NOT_PLANNED",
			"url": "https://github.com/octo/hello/issues/1",
			"createdAt": "2024-01-01T00:00:00Z",
			"updatedAt": "2024-01-02T00:00:00Z",
			"closedAt": "2024-01-03T00:00:00Z",
			"author": null,
			"labels": {"nodes": [{"name": "bug", "color": "d73a4a"}]},
			"assignees": {"nodes": [{"login": "alice", "avatarUrl": "https://a"}]},
			"comments": {"totalCount": 1, "nodes": [{
				"id": "IC_1", "body": "same here", "url": "https://c",
				"createdAt": "2024-01-01T01:00:00Z", "updatedAt": "2024-01-01T01:00:00Z",
				"author": {"login": "bob"}
			}]},
			"timelineItems": {"nodes": [{"actor": {"login": "carol"}}]}
		}]
	}}}}`
}

func boolJSON(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestIssuePages_MapsAndFollowsCursor(t *testing.T) {
	f := &fakeGitHub{handle: func(req graphqlRequest) string {
		if req.Variables["cursor"] == nil {
			return issuePageJSON("c1", true, 1)
		}
		return issuePageJSON("c2", false, 2)
	}}
	src := newTestSource(t, f)
	repo := domain.RepositoryIdentifier{Owner: "octo", Name: "hello"}

	var pages []*IssuePage
	for page, err := range src.IssuePages(context.Background(), repo, nil) {
		require.NoError(t, err)
		pages = append(pages, page)
	}
	require.Len(t, pages, 2)

	first := pages[0]
	assert.Equal(t, "c1", first.EndCursor)
	assert.True(t, first.HasNextPage)
	require.Len(t, first.Issues, 1)

	issue := first.Issues[0]
	assert.Equal(t, "I_c1", issue.ID)
	assert.Equal(t, 1, issue.Number)
	assert.Equal(t, "closed", issue.State)
	assert.Equal(t, "not_planned", issue.StateReason)
	assert.Equal(t, domain.GhostLogin, issue.Author)
	assert.Equal(t, "carol", issue.ClosedBy)
	assert.Equal(t, 1, issue.CommentsCount)
	require.NotNil(t, issue.ClosedAt)
	assert.Equal(t, []domain.Label{{Name: "bug", Color: "d73a4a"}}, issue.Labels)
	assert.Equal(t, []domain.Assignee{{Login: "alice", AvatarURL: "https://a"}}, issue.Assignees)
	assert.Equal(t, repo, issue.Repository)

	require.Len(t, first.Comments, 1)
	assert.Equal(t, "IC_1", first.Comments[0].ID)
	assert.Equal(t, "I_c1", first.Comments[0].IssueID)
	assert.Equal(t, "bob", first.Comments[0].Author)

	assert.False(t, pages[1].HasNextPage)
	require.Len(t, f.vars, 2)
	assert.Nil(t, f.vars[0]["cursor"])
	assert.Equal(t, "c1", f.vars[1]["cursor"])
	assert.EqualValues(t, IssuePageSize, f.vars[0]["pageSize"])
	assert.Equal(t, []any{"OPEN", "CLOSED"}, f.vars[0]["states"])
}

func TestIssuePages_StartsAfterCursor(t *testing.T) {
	f := &fakeGitHub{handle: func(req graphqlRequest) string {
		return issuePageJSON("c9", false, 9)
	}}
	src := newTestSource(t, f)
	after := "c8"

	for _, err := range src.IssuePages(context.Background(), domain.RepositoryIdentifier{Owner: "octo", Name: "hello"}, &after) {
		require.NoError(t, err)
	}
	require.Len(t, f.vars, 1)
	assert.Equal(t, "c8", f.vars[0]["cursor"])
}

func TestIssuePages_StopsWhenConsumerBreaks(t *testing.T) {
	f := &fakeGitHub{handle: func(req graphqlRequest) string {
		return issuePageJSON("c1", true, 1)
	}}
	src := newTestSource(t, f)

	for _, err := range src.IssuePages(context.Background(), domain.RepositoryIdentifier{Owner: "octo", Name: "hello"}, nil) {
		require.NoError(t, err)
		break
	}
	assert.Len(t, f.vars, 1)
}

func TestPullRequestPages_MapsNestedRecords(t *testing.T) {
	f := &fakeGitHub{handle: func(req graphqlRequest) string {
		assert.Contains(t, req.Query, "pullRequests(")
		return `{"data": {` + rateLimitJSON + `, "repository": {"pullRequests": {
			"pageInfo": {"endCursor": "p1", "hasNextPage": false},
			"nodes": [{
				"id": "PR_1", "number": 5, "title": "Fix crash", "body": "fixes #1",
				"state": "MERGED", "url": "https://github.com/octo/hello/pull/5", "isDraft": false,
				"createdAt": "2024-02-01T00:00:00Z", "updatedAt": "2024-02-02T00:00:00Z",
				"closedAt": "2024-02-03T00:00:00Z", "mergedAt": "2024-02-03T00:00:00Z",
				"author": {"login": "dave"},
				"additions": 10, "deletions": 2, "changedFiles": 1,
				"baseRefName": "main", "headRefName": "fix",
				"labels": {"nodes": []},
				"assignees": {"nodes": []},
				"closingIssuesReferences": {"nodes": [{"id": "I_c1"}]},
				"comments": {"nodes": [{
					"id": "PC_1", "body": "lgtm", "url": "https://c",
					"createdAt": "2024-02-01T01:00:00Z", "updatedAt": "2024-02-01T01:00:00Z",
					"author": {"login": "erin"}
				}]},
				"commits": {"totalCount": 1, "nodes": [{"commit": {
					"oid": "abc123", "message": "fix", "url": "https://c/abc123",
					"additions": 10, "deletions": 2, "changedFilesIfAvailable": 1,
					"author": {"name": "Dave", "date": "2024-02-01T00:00:00Z"},
					"committer": {"name": "GitHub", "date": "2024-02-01T00:05:00Z"}
				}}]}
			}]
		}}}}`
	}}
	src := newTestSource(t, f)

	var pages []*PullRequestPage
	for page, err := range src.PullRequestPages(context.Background(), domain.RepositoryIdentifier{Owner: "octo", Name: "hello"}, nil) {
		require.NoError(t, err)
		pages = append(pages, page)
	}
	require.Len(t, pages, 1)
	page := pages[0]

	require.Len(t, page.PullRequests, 1)
	pr := page.PullRequests[0]
	assert.Equal(t, "merged", pr.State)
	assert.Equal(t, "I_c1", pr.AssociatedIssueID)
	assert.Equal(t, 1, pr.CommitsCount)
	require.NotNil(t, pr.MergedAt)

	require.Len(t, page.Comments, 1)
	assert.Equal(t, "PR_1", page.Comments[0].PullRequestID)
	assert.Empty(t, page.Comments[0].IssueID)

	require.Len(t, page.Commits, 1)
	commit := page.Commits[0]
	assert.Equal(t, "abc123", commit.SHA)
	assert.Equal(t, "PR_1", commit.PullRequestID)
	assert.Equal(t, 1, commit.TotalChangedFiles)
	assert.Equal(t, "Dave", commit.AuthorName)
	assert.Equal(t, "GitHub", commit.CommitterName)

	assert.EqualValues(t, PullRequestPageSize, f.vars[0]["pageSize"])
	assert.Equal(t, []any{"OPEN", "CLOSED", "MERGED"}, f.vars[0]["states"])
}

func TestRepositoryInfo_CombinesRESTAndCounts(t *testing.T) {
	f := &fakeGitHub{handle: func(req graphqlRequest) string {
		return `{"data": {` + rateLimitJSON + `, "repository": {
			"issues": {"totalCount": 150},
			"pullRequests": {"totalCount": 30}
		}}}`
	}}
	src := newTestSource(t, f)

	info, err := src.RepositoryInfo(context.Background(), domain.RepositoryIdentifier{Owner: "octo", Name: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "octo", info.Owner)
	assert.Equal(t, "hello", info.Name)
	assert.Equal(t, "demo repository", info.Description)
	assert.Equal(t, "MIT License", info.License)
	assert.Equal(t, 42, info.Stars)
	assert.Equal(t, 150, info.TotalIssuesCount)
	assert.Equal(t, 30, info.TotalPullRequestsCount)
}

func TestErrors_AreTagged(t *testing.T) {
	repo := domain.RepositoryIdentifier{Owner: "octo", Name: "missing"}

	tests := []struct {
		name   string
		status int
		body   string
		kind   apperrors.Kind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, kind: apperrors.KindAuth},
		{name: "forbidden", status: http.StatusForbidden, kind: apperrors.KindRateLimited},
		{name: "not found", status: http.StatusNotFound, kind: apperrors.KindNotFound},
		{
			name: "unresolved repository",
			body: `{"errors": [{"message": "Could not resolve to a Repository with the name 'octo/missing'."}]}`,
			kind: apperrors.KindNotFound,
		},
		{
			name: "graphql rate limit",
			body: `{"errors": [{"message": "API rate limit exceeded for user ID 1."}]}`,
			kind: apperrors.KindRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeGitHub{status: tt.status, handle: func(graphqlRequest) string { return tt.body }}
			src := newTestSource(t, f)

			var got error
			for _, err := range src.IssuePages(context.Background(), repo, nil) {
				got = err
			}
			require.Error(t, got)
			assert.Equal(t, tt.kind, apperrors.KindOf(got))
			if tt.kind == apperrors.KindNotFound {
				assert.Contains(t, got.Error(), "octo/missing")
			}
		})
	}
}

func TestNewGitHubSource_RequiresToken(t *testing.T) {
	_, err := NewGitHubSource("  ", Options{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestResetFromHeaders(t *testing.T) {
	h := http.Header{}
	assert.Nil(t, resetFromHeaders(h))

	h.Set("X-RateLimit-Reset", "1893456000")
	reset := resetFromHeaders(h)
	require.NotNil(t, reset)
	assert.Equal(t, int64(1893456000), reset.Unix())

	h.Set("Retry-After", "30")
	reset = resetFromHeaders(h)
	require.NotNil(t, reset)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), *reset, 5*time.Second)
}

func TestClassify_ContextErrorsAreTransient(t *testing.T) {
	err := classify(context.Canceled, domain.RepositoryIdentifier{Owner: "o", Name: "n"}, "fetching issues")
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "interrupted"))
}
