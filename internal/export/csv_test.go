package export

import (
	"context"
	"encoding/csv"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

var widgets = domain.RepositoryIdentifier{Owner: "acme", Name: "widgets"}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVIssueSinkAppendAndReplace(t *testing.T) {
	sink, err := NewCSVIssueSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	closed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	issue := &domain.Issue{
		ID: "I_1", Number: 12, Title: "Crash, on start", State: "closed", Author: "octocat",
		Assignees:     []domain.Assignee{{Login: "a"}, {Login: "b"}},
		Labels:        []domain.Label{{Name: "bug"}},
		CreatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		ClosedAt:      &closed,
		CommentsCount: 3,
		URL:           "https://github.com/acme/widgets/issues/12",
	}

	require.NoError(t, sink.ExportIssues(ctx, []*domain.Issue{issue}, widgets, domain.ModeAppend))
	require.NoError(t, sink.ExportIssues(ctx, []*domain.Issue{issue}, widgets, domain.ModeAppend))

	rows := readCSV(t, sink.Path(widgets))
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"I_1", "12", "Crash, on start", "closed", "octocat", "a, b", "bug",
		"2024-01-01T00:00:00Z", "2024-02-01T00:00:00Z", "2024-03-01T10:00:00Z", "3",
		"https://github.com/acme/widgets/issues/12",
	}, rows[1])

	require.NoError(t, sink.ExportIssues(ctx, nil, widgets, domain.ModeReplace))
	rows = readCSV(t, sink.Path(widgets))
	assert.Equal(t, [][]string{csvHeader}, rows)
}

func TestCSVIssueSinkRedeliveredPageKeepsLatestRow(t *testing.T) {
	sink, err := NewCSVIssueSink(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	first := &domain.Issue{ID: "I_1", Number: 1, Title: "a", State: "open"}
	second := &domain.Issue{ID: "I_2", Number: 2, Title: "other", State: "open"}
	require.NoError(t, sink.ExportIssues(ctx, []*domain.Issue{first, second}, widgets, domain.ModeAppend))

	again := &domain.Issue{ID: "I_1", Number: 1, Title: "b", State: "closed"}
	third := &domain.Issue{ID: "I_3", Number: 3, Title: "new", State: "open"}
	require.NoError(t, sink.ExportIssues(ctx, []*domain.Issue{again, third}, widgets, domain.ModeAppend))

	rows := readCSV(t, sink.Path(widgets))
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"I_1", "b", "closed"}, []string{rows[1][0], rows[1][2], rows[1][3]})
	assert.Equal(t, "I_2", rows[2][0])
	assert.Equal(t, "I_3", rows[3][0])

	entries, err := os.ReadDir(sink.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestCSVIssueSinkEmptyTimestamps(t *testing.T) {
	sink, err := NewCSVIssueSink(t.TempDir())
	require.NoError(t, err)

	issue := &domain.Issue{ID: "I_1", Number: 1, Title: "t", State: "open"}
	require.NoError(t, sink.ExportIssues(context.Background(), []*domain.Issue{issue}, widgets, domain.ModeAppend))

	rows := readCSV(t, sink.Path(widgets))
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"", "", ""}, rows[1][7:10])
}
