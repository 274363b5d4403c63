package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

// ExportRepository upserts repository metadata keyed by owner and name
func (s *Store) ExportRepository(ctx context.Context, info *domain.RepositoryInfo) error {
	return s.inTx(ctx, "exporting repository "+info.Identifier().String(), func(tx *sql.Tx) error {
		return s.txExec(ctx, tx, `
			INSERT INTO repositories (owner, name, description, url, license, language, stars, forks,
				open_issues_count, total_issues_count, total_pull_requests_count, created_at, updated_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (owner, name) DO UPDATE SET
				description = EXCLUDED.description,
				url = EXCLUDED.url,
				license = EXCLUDED.license,
				language = EXCLUDED.language,
				stars = EXCLUDED.stars,
				forks = EXCLUDED.forks,
				open_issues_count = EXCLUDED.open_issues_count,
				total_issues_count = EXCLUDED.total_issues_count,
				total_pull_requests_count = EXCLUDED.total_pull_requests_count,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				synced_at = EXCLUDED.synced_at
		`,
			info.Owner, info.Name, nullString(info.Description), info.URL, nullString(info.License),
			nullString(info.Language), info.Stars, info.Forks, info.OpenIssuesCount, info.TotalIssuesCount,
			info.TotalPullRequestsCount, nullTimeValue(info.CreatedAt), nullTimeValue(info.UpdatedAt), s.now(),
		)
	})
}

// ExportIssues upserts a page of issues. Replace mode first clears the
// repository's issues and their label links.
func (s *Store) ExportIssues(ctx context.Context, issues []*domain.Issue, repo domain.RepositoryIdentifier, mode domain.ExportMode) error {
	if mode != domain.ModeReplace && len(issues) == 0 {
		return nil
	}
	return s.inTx(ctx, fmt.Sprintf("exporting %d issues of %s", len(issues), repo), func(tx *sql.Tx) error {
		if mode == domain.ModeReplace {
			if err := s.txExec(ctx, tx, `
				DELETE FROM issue_labels WHERE issue_id IN (
					SELECT id FROM issues WHERE repository_owner = ? AND repository_name = ?
				)`, repo.Owner, repo.Name); err != nil {
				return err
			}
			if err := s.txExec(ctx, tx, `DELETE FROM issues WHERE repository_owner = ? AND repository_name = ?`, repo.Owner, repo.Name); err != nil {
				return err
			}
		}
		if len(issues) == 0 {
			return nil
		}

		stmt, err := s.prepare(ctx, tx, `
			INSERT INTO issues (id, number, title, body, author, state, url, created_at, updated_at, closed_at,
				comments_count, assignees, closed_by, state_reason, repository_owner, repository_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				number = EXCLUDED.number,
				title = EXCLUDED.title,
				body = EXCLUDED.body,
				author = EXCLUDED.author,
				state = EXCLUDED.state,
				url = EXCLUDED.url,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				closed_at = EXCLUDED.closed_at,
				comments_count = EXCLUDED.comments_count,
				assignees = EXCLUDED.assignees,
				closed_by = EXCLUDED.closed_by,
				state_reason = EXCLUDED.state_reason,
				repository_owner = EXCLUDED.repository_owner,
				repository_name = EXCLUDED.repository_name
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, issue := range issues {
			assignees, err := encodeAssignees(issue.Assignees)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				issue.ID, issue.Number, issue.Title, issue.Body, issue.Author, issue.State, issue.URL,
				nullTimeValue(issue.CreatedAt), nullTimeValue(issue.UpdatedAt), nullTime(issue.ClosedAt),
				issue.CommentsCount, assignees, nullString(issue.ClosedBy), nullString(issue.StateReason),
				repo.Owner, repo.Name,
			)
			if err != nil {
				return fmt.Errorf("upserting issue #%d: %w", issue.Number, err)
			}
		}
		return nil
	})
}

// ExportPullRequests upserts a page of pull requests
func (s *Store) ExportPullRequests(ctx context.Context, prs []*domain.PullRequest, repo domain.RepositoryIdentifier, mode domain.ExportMode) error {
	if mode != domain.ModeReplace && len(prs) == 0 {
		return nil
	}
	return s.inTx(ctx, fmt.Sprintf("exporting %d pull requests of %s", len(prs), repo), func(tx *sql.Tx) error {
		if mode == domain.ModeReplace {
			if err := s.txExec(ctx, tx, `
				DELETE FROM pull_request_labels WHERE pull_request_id IN (
					SELECT id FROM pull_requests WHERE repository_owner = ? AND repository_name = ?
				)`, repo.Owner, repo.Name); err != nil {
				return err
			}
			if err := s.txExec(ctx, tx, `DELETE FROM pull_requests WHERE repository_owner = ? AND repository_name = ?`, repo.Owner, repo.Name); err != nil {
				return err
			}
		}
		if len(prs) == 0 {
			return nil
		}

		stmt, err := s.prepare(ctx, tx, `
			INSERT INTO pull_requests (id, number, title, body, author, state, url, is_draft, created_at, updated_at,
				closed_at, merged_at, assignees, commits_count, additions, deletions, changed_files,
				base_ref_name, head_ref_name, associated_issue_id, repository_owner, repository_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				number = EXCLUDED.number,
				title = EXCLUDED.title,
				body = EXCLUDED.body,
				author = EXCLUDED.author,
				state = EXCLUDED.state,
				url = EXCLUDED.url,
				is_draft = EXCLUDED.is_draft,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				closed_at = EXCLUDED.closed_at,
				merged_at = EXCLUDED.merged_at,
				assignees = EXCLUDED.assignees,
				commits_count = EXCLUDED.commits_count,
				additions = EXCLUDED.additions,
				deletions = EXCLUDED.deletions,
				changed_files = EXCLUDED.changed_files,
				base_ref_name = EXCLUDED.base_ref_name,
				head_ref_name = EXCLUDED.head_ref_name,
				associated_issue_id = EXCLUDED.associated_issue_id,
				repository_owner = EXCLUDED.repository_owner,
				repository_name = EXCLUDED.repository_name
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, pr := range prs {
			assignees, err := encodeAssignees(pr.Assignees)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				pr.ID, pr.Number, pr.Title, pr.Body, pr.Author, pr.State, pr.URL, pr.IsDraft,
				nullTimeValue(pr.CreatedAt), nullTimeValue(pr.UpdatedAt), nullTime(pr.ClosedAt), nullTime(pr.MergedAt),
				assignees, pr.CommitsCount, pr.Additions, pr.Deletions, pr.ChangedFiles,
				pr.BaseRefName, pr.HeadRefName, nullString(pr.AssociatedIssueID), repo.Owner, repo.Name,
			)
			if err != nil {
				return fmt.Errorf("upserting pull request #%d: %w", pr.Number, err)
			}
		}
		return nil
	})
}

// ExportComments upserts a page of comments
func (s *Store) ExportComments(ctx context.Context, comments []*domain.Comment, repo domain.RepositoryIdentifier, mode domain.ExportMode) error {
	if mode != domain.ModeReplace && len(comments) == 0 {
		return nil
	}
	return s.inTx(ctx, fmt.Sprintf("exporting %d comments of %s", len(comments), repo), func(tx *sql.Tx) error {
		if mode == domain.ModeReplace {
			if err := s.txExec(ctx, tx, `DELETE FROM comments WHERE repository_owner = ? AND repository_name = ?`, repo.Owner, repo.Name); err != nil {
				return err
			}
		}
		if len(comments) == 0 {
			return nil
		}

		stmt, err := s.prepare(ctx, tx, `
			INSERT INTO comments (id, body, author, url, created_at, updated_at, issue_id, pull_request_id,
				repository_owner, repository_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				body = EXCLUDED.body,
				author = EXCLUDED.author,
				url = EXCLUDED.url,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				issue_id = EXCLUDED.issue_id,
				pull_request_id = EXCLUDED.pull_request_id,
				repository_owner = EXCLUDED.repository_owner,
				repository_name = EXCLUDED.repository_name
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range comments {
			_, err := stmt.ExecContext(ctx,
				c.ID, c.Body, c.Author, c.URL, nullTimeValue(c.CreatedAt), nullTimeValue(c.UpdatedAt),
				nullString(c.IssueID), nullString(c.PullRequestID), repo.Owner, repo.Name,
			)
			if err != nil {
				return fmt.Errorf("upserting comment %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// ClearCommits deletes the commits of repo
func (s *Store) ClearCommits(ctx context.Context, repo domain.RepositoryIdentifier) error {
	return s.inTx(ctx, fmt.Sprintf("clearing commits of %s", repo), func(tx *sql.Tx) error {
		return s.txExec(ctx, tx, `DELETE FROM commits WHERE repository_owner = ? AND repository_name = ?`, repo.Owner, repo.Name)
	})
}

// ExportCommits upserts a page of commits. A commit is stored once per pull
// request that contains it.
func (s *Store) ExportCommits(ctx context.Context, commits []*domain.Commit, repo domain.RepositoryIdentifier) error {
	if len(commits) == 0 {
		return nil
	}
	return s.inTx(ctx, fmt.Sprintf("exporting %d commits of %s", len(commits), repo), func(tx *sql.Tx) error {
		stmt, err := s.prepare(ctx, tx, `
			INSERT INTO commits (sha, pull_request_id, message, author_name, authored_date, committer_name,
				committed_date, url, additions, deletions, total_changed_files, repository_owner, repository_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (sha, pull_request_id) DO UPDATE SET
				message = EXCLUDED.message,
				author_name = EXCLUDED.author_name,
				authored_date = EXCLUDED.authored_date,
				committer_name = EXCLUDED.committer_name,
				committed_date = EXCLUDED.committed_date,
				url = EXCLUDED.url,
				additions = EXCLUDED.additions,
				deletions = EXCLUDED.deletions,
				total_changed_files = EXCLUDED.total_changed_files,
				repository_owner = EXCLUDED.repository_owner,
				repository_name = EXCLUDED.repository_name
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range commits {
			_, err := stmt.ExecContext(ctx,
				c.SHA, c.PullRequestID, c.Message, c.AuthorName, nullTimeValue(c.AuthoredDate), c.CommitterName,
				nullTimeValue(c.CommittedDate), c.URL, c.Additions, c.Deletions, c.TotalChangedFiles,
				repo.Owner, repo.Name,
			)
			if err != nil {
				return fmt.Errorf("upserting commit %s: %w", c.SHA, err)
			}
		}
		return nil
	})
}

// ExportIssueLabels upserts the labels of the batch and replaces each issue's
// label links with its current set
func (s *Store) ExportIssueLabels(ctx context.Context, issues []*domain.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	parents := make([]labelParent, 0, len(issues))
	for _, issue := range issues {
		parents = append(parents, labelParent{id: issue.ID, labels: issue.Labels})
	}
	return s.replaceLabels(ctx, "issue_labels", "issue_id", parents)
}

// ExportPullRequestLabels does the same as ExportIssueLabels for pull requests
func (s *Store) ExportPullRequestLabels(ctx context.Context, prs []*domain.PullRequest) error {
	if len(prs) == 0 {
		return nil
	}
	parents := make([]labelParent, 0, len(prs))
	for _, pr := range prs {
		parents = append(parents, labelParent{id: pr.ID, labels: pr.Labels})
	}
	return s.replaceLabels(ctx, "pull_request_labels", "pull_request_id", parents)
}

type labelParent struct {
	id     string
	labels []domain.Label
}

// replaceLabels is a full replace-by-parent: links of every parent in the
// batch are deleted and re-inserted in one transaction
func (s *Store) replaceLabels(ctx context.Context, linkTable, parentColumn string, parents []labelParent) error {
	return s.inTx(ctx, "exporting labels to "+linkTable, func(tx *sql.Tx) error {
		upsertLabel, err := s.prepare(ctx, tx, `
			INSERT INTO labels (name, color) VALUES (?, ?)
			ON CONFLICT (name) DO UPDATE SET color = EXCLUDED.color
		`)
		if err != nil {
			return err
		}
		defer upsertLabel.Close()

		clearLinks, err := s.prepare(ctx, tx, `DELETE FROM `+linkTable+` WHERE `+parentColumn+` = ?`)
		if err != nil {
			return err
		}
		defer clearLinks.Close()

		insertLink, err := s.prepare(ctx, tx, `
			INSERT INTO `+linkTable+` (`+parentColumn+`, label_name) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer insertLink.Close()

		for _, p := range parents {
			if _, err := clearLinks.ExecContext(ctx, p.id); err != nil {
				return fmt.Errorf("clearing labels of %s: %w", p.id, err)
			}
			for _, l := range p.labels {
				if _, err := upsertLabel.ExecContext(ctx, l.Name, l.Color); err != nil {
					return fmt.Errorf("upserting label %q: %w", l.Name, err)
				}
				if _, err := insertLink.ExecContext(ctx, p.id, l.Name); err != nil {
					return fmt.Errorf("linking label %q to %s: %w", l.Name, p.id, err)
				}
			}
		}
		return nil
	})
}

func encodeAssignees(assignees []domain.Assignee) (string, error) {
	if len(assignees) == 0 {
		return "[]", nil
	}
	type row struct {
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
	}
	rows := make([]row, 0, len(assignees))
	for _, a := range assignees {
		rows = append(rows, row{Login: a.Login, AvatarURL: a.AvatarURL})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("encoding assignees: %w", err)
	}
	return string(b), nil
}
