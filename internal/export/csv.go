package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-issue-extractor/internal/errors"
	"github.com/kurihiro0119/github-issue-extractor/internal/storage"
)

var _ storage.IssueSink = (*CSVIssueSink)(nil)

var csvHeader = []string{
	"ID", "NUMBER", "TITLE", "STATE", "AUTHOR", "ASSIGNEES", "LABELS",
	"CREATED_AT", "UPDATED_AT", "CLOSED_AT", "COMMENTS", "URL",
}

// CSVIssueSink writes issues to <dir>/<owner>-<name>.csv
type CSVIssueSink struct {
	dir string
	mu  sync.Mutex
}

// NewCSVIssueSink creates dir if needed and returns a sink writing into it
func NewCSVIssueSink(dir string) (*CSVIssueSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &CSVIssueSink{dir: dir}, nil
}

// Path returns the file the issues of repo are written to
func (s *CSVIssueSink) Path(repo domain.RepositoryIdentifier) string {
	return filepath.Join(s.dir, repo.Owner+"-"+repo.Name+".csv")
}

// ExportIssues merges the batch into the file, one row per issue ID, so a
// redelivered page overwrites its earlier rows. Replace mode drops the
// previous content first.
func (s *CSVIssueSink) ExportIssues(ctx context.Context, issues []*domain.Issue, repo domain.RepositoryIdentifier, mode domain.ExportMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(repo)
	var rows [][]string
	if mode != domain.ModeReplace {
		existing, err := readRows(path)
		if err != nil {
			return apperrors.NewPersistenceError("reading "+path, err)
		}
		rows = existing
	}

	index := make(map[string]int, len(rows)+len(issues))
	for i, row := range rows {
		index[row[0]] = i
	}
	for _, issue := range issues {
		row := issueRow(issue)
		if i, ok := index[issue.ID]; ok {
			rows[i] = row
			continue
		}
		index[issue.ID] = len(rows)
		rows = append(rows, row)
	}

	if err := writeRows(path, rows); err != nil {
		return apperrors.NewPersistenceError("writing "+path, err)
	}
	return nil
}

// readRows returns the data rows of path, none when it does not exist
func readRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

// writeRows replaces path atomically with the header and rows
func writeRows(path string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func issueRow(issue *domain.Issue) []string {
	assignees := make([]string, 0, len(issue.Assignees))
	for _, a := range issue.Assignees {
		assignees = append(assignees, a.Login)
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	closedAt := ""
	if issue.ClosedAt != nil {
		closedAt = formatTime(*issue.ClosedAt)
	}
	return []string{
		issue.ID,
		strconv.Itoa(issue.Number),
		issue.Title,
		issue.State,
		issue.Author,
		strings.Join(assignees, ", "),
		strings.Join(labels, ", "),
		formatTime(issue.CreatedAt),
		formatTime(issue.UpdatedAt),
		closedAt,
		strconv.Itoa(issue.CommentsCount),
		issue.URL,
	}
}

// formatTime renders t in RFC 3339, or an empty cell when it is unset
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
