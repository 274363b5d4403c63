package source

import (
	"fmt"
	"strings"
	"time"

	"github.com/shurcooL/githubv4"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

type actor struct {
	Login githubv4.String
}

type labelNode struct {
	Name  githubv4.String
	Color githubv4.String
}

type assigneeNode struct {
	Login     githubv4.String
	AvatarURL githubv4.String
}

type pageInfo struct {
	EndCursor   githubv4.String
	HasNextPage githubv4.Boolean
}

type rateLimit struct {
	Limit     githubv4.Int
	Cost      githubv4.Int
	Remaining githubv4.Int
	ResetAt   githubv4.DateTime
}

type commentNode struct {
	ID        githubv4.ID
	Body      githubv4.String
	URL       githubv4.String
	CreatedAt githubv4.DateTime
	UpdatedAt githubv4.DateTime
	Author    *actor
}

type issueNode struct {
	ID          githubv4.ID
	Number      githubv4.Int
	Title       githubv4.String
	Body        githubv4.String
	State       githubv4.IssueState
	StateReason *githubv4.IssueStateReason
	URL         githubv4.String
	CreatedAt   githubv4.DateTime
	UpdatedAt   githubv4.DateTime
	ClosedAt    *githubv4.DateTime
	Author      *actor
	Labels      struct {
		Nodes []labelNode
	} `graphql:"labels(first: 20)"`
	Assignees struct {
		Nodes []assigneeNode
	} `graphql:"assignees(first: 10)"`
	Comments struct {
		TotalCount githubv4.Int
		Nodes      []commentNode
	} `graphql:"comments(first: 100)"`
	TimelineItems struct {
		Nodes []struct {
			ClosedEvent struct {
				Actor *actor
			} `graphql:"... on ClosedEvent"`
		}
	} `graphql:"timelineItems(itemTypes: [CLOSED_EVENT], last: 1)"`
}

type commitNode struct {
	Commit struct {
		OID                     githubv4.GitObjectID
		Message                 githubv4.String
		URL                     githubv4.String
		Additions               githubv4.Int
		Deletions               githubv4.Int
		ChangedFilesIfAvailable *githubv4.Int
		Author                  *struct {
			Name githubv4.String
			Date *githubv4.GitTimestamp
		}
		Committer *struct {
			Name githubv4.String
			Date *githubv4.GitTimestamp
		}
	}
}

type pullRequestNode struct {
	ID           githubv4.ID
	Number       githubv4.Int
	Title        githubv4.String
	Body         githubv4.String
	State        githubv4.PullRequestState
	URL          githubv4.String
	IsDraft      githubv4.Boolean
	CreatedAt    githubv4.DateTime
	UpdatedAt    githubv4.DateTime
	ClosedAt     *githubv4.DateTime
	MergedAt     *githubv4.DateTime
	Author       *actor
	Additions    githubv4.Int
	Deletions    githubv4.Int
	ChangedFiles githubv4.Int
	BaseRefName  githubv4.String
	HeadRefName  githubv4.String
	Labels       struct {
		Nodes []labelNode
	} `graphql:"labels(first: 20)"`
	Assignees struct {
		Nodes []assigneeNode
	} `graphql:"assignees(first: 10)"`
	ClosingIssuesReferences struct {
		Nodes []struct {
			ID githubv4.ID
		}
	} `graphql:"closingIssuesReferences(first: 1)"`
	Comments struct {
		Nodes []commentNode
	} `graphql:"comments(first: 100)"`
	Commits struct {
		TotalCount githubv4.Int
		Nodes      []commitNode
	} `graphql:"commits(first: 100)"`
}

type issuesQuery struct {
	RateLimit  rateLimit
	Repository struct {
		Issues struct {
			PageInfo pageInfo
			Nodes    []issueNode
		} `graphql:"issues(first: $pageSize, after: $cursor, states: $states, orderBy: $orderBy)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type pullRequestsQuery struct {
	RateLimit  rateLimit
	Repository struct {
		PullRequests struct {
			PageInfo pageInfo
			Nodes    []pullRequestNode
		} `graphql:"pullRequests(first: $pageSize, after: $cursor, states: $states, orderBy: $orderBy)"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

type countsQuery struct {
	RateLimit  rateLimit
	Repository struct {
		Issues struct {
			TotalCount githubv4.Int
		} `graphql:"issues(states: [OPEN, CLOSED])"`
		PullRequests struct {
			TotalCount githubv4.Int
		} `graphql:"pullRequests(states: [OPEN, CLOSED, MERGED])"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

func nodeID(id githubv4.ID) string {
	if id == nil {
		return ""
	}
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}

func login(a *actor) string {
	if a == nil || a.Login == "" {
		return domain.GhostLogin
	}
	return string(a.Login)
}

func timeOf(dt *githubv4.DateTime) *time.Time {
	if dt == nil || dt.IsZero() {
		return nil
	}
	t := dt.Time
	return &t
}

func labelsOf(nodes []labelNode) []domain.Label {
	labels := make([]domain.Label, 0, len(nodes))
	for _, n := range nodes {
		labels = append(labels, domain.Label{Name: string(n.Name), Color: string(n.Color)})
	}
	return labels
}

func assigneesOf(nodes []assigneeNode) []domain.Assignee {
	assignees := make([]domain.Assignee, 0, len(nodes))
	for _, n := range nodes {
		assignees = append(assignees, domain.Assignee{Login: string(n.Login), AvatarURL: string(n.AvatarURL)})
	}
	return assignees
}

func mapComment(n commentNode, repo domain.RepositoryIdentifier) *domain.Comment {
	return &domain.Comment{
		ID:         nodeID(n.ID),
		Body:       string(n.Body),
		Author:     login(n.Author),
		URL:        string(n.URL),
		CreatedAt:  n.CreatedAt.Time,
		UpdatedAt:  n.UpdatedAt.Time,
		Repository: repo,
	}
}

func mapIssue(n issueNode, repo domain.RepositoryIdentifier) (*domain.Issue, []*domain.Comment) {
	state := "closed"
	if n.State == githubv4.IssueStateOpen {
		state = "open"
	}
	issue := &domain.Issue{
		ID:            nodeID(n.ID),
		Number:        int(n.Number),
		Title:         string(n.Title),
		Body:          string(n.Body),
		Author:        login(n.Author),
		State:         state,
		URL:           string(n.URL),
		CreatedAt:     n.CreatedAt.Time,
		UpdatedAt:     n.UpdatedAt.Time,
		ClosedAt:      timeOf(n.ClosedAt),
		CommentsCount: int(n.Comments.TotalCount),
		Labels:        labelsOf(n.Labels.Nodes),
		Assignees:     assigneesOf(n.Assignees.Nodes),
		Repository:    repo,
	}
	if n.StateReason != nil {
		issue.StateReason = strings.ToLower(string(*n.StateReason))
	}
	if nodes := n.TimelineItems.Nodes; len(nodes) > 0 && nodes[0].ClosedEvent.Actor != nil {
		issue.ClosedBy = string(nodes[0].ClosedEvent.Actor.Login)
	}

	comments := make([]*domain.Comment, 0, len(n.Comments.Nodes))
	for _, c := range n.Comments.Nodes {
		comment := mapComment(c, repo)
		comment.IssueID = issue.ID
		comments = append(comments, comment)
	}
	return issue, comments
}

func mapPullRequest(n pullRequestNode, repo domain.RepositoryIdentifier) (*domain.PullRequest, []*domain.Comment, []*domain.Commit) {
	var state string
	switch n.State {
	case githubv4.PullRequestStateOpen:
		state = "open"
	case githubv4.PullRequestStateMerged:
		state = "merged"
	default:
		state = "closed"
	}
	pr := &domain.PullRequest{
		ID:           nodeID(n.ID),
		Number:       int(n.Number),
		Title:        string(n.Title),
		Body:         string(n.Body),
		Author:       login(n.Author),
		State:        state,
		URL:          string(n.URL),
		IsDraft:      bool(n.IsDraft),
		CreatedAt:    n.CreatedAt.Time,
		UpdatedAt:    n.UpdatedAt.Time,
		ClosedAt:     timeOf(n.ClosedAt),
		MergedAt:     timeOf(n.MergedAt),
		Labels:       labelsOf(n.Labels.Nodes),
		Assignees:    assigneesOf(n.Assignees.Nodes),
		CommitsCount: int(n.Commits.TotalCount),
		Additions:    int(n.Additions),
		Deletions:    int(n.Deletions),
		ChangedFiles: int(n.ChangedFiles),
		BaseRefName:  string(n.BaseRefName),
		HeadRefName:  string(n.HeadRefName),
		Repository:   repo,
	}
	if refs := n.ClosingIssuesReferences.Nodes; len(refs) > 0 {
		pr.AssociatedIssueID = nodeID(refs[0].ID)
	}

	comments := make([]*domain.Comment, 0, len(n.Comments.Nodes))
	for _, c := range n.Comments.Nodes {
		comment := mapComment(c, repo)
		comment.PullRequestID = pr.ID
		comments = append(comments, comment)
	}

	commits := make([]*domain.Commit, 0, len(n.Commits.Nodes))
	for _, c := range n.Commits.Nodes {
		commit := &domain.Commit{
			SHA:           string(c.Commit.OID),
			Message:       string(c.Commit.Message),
			URL:           string(c.Commit.URL),
			Additions:     int(c.Commit.Additions),
			Deletions:     int(c.Commit.Deletions),
			PullRequestID: pr.ID,
			Repository:    repo,
		}
		if c.Commit.ChangedFilesIfAvailable != nil {
			commit.TotalChangedFiles = int(*c.Commit.ChangedFilesIfAvailable)
		}
		if a := c.Commit.Author; a != nil {
			commit.AuthorName = string(a.Name)
			if a.Date != nil {
				commit.AuthoredDate = a.Date.Time
			}
		}
		if a := c.Commit.Committer; a != nil {
			commit.CommitterName = string(a.Name)
			if a.Date != nil {
				commit.CommittedDate = a.Date.Time
			}
		}
		commits = append(commits, commit)
	}
	return pr, comments, commits
}
