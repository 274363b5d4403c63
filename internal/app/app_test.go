package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kurihiro0119/github-issue-extractor/internal/config"
	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

func TestNew_SQLiteWithCSVExport(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(dir, "extractions.db")
	cfg.CSVExportDir = filepath.Join(dir, "csv")

	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	job, err := a.Orchestrator.Create(ctx, "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, job.Status)

	jobs, err := a.Orchestrator.List(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	assert.DirExists(t, cfg.CSVExportDir)
	require.NoError(t, a.Close(ctx))
}

func TestNew_PostgresUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.StorageType = "postgres"
	cfg.PostgresURL = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	_, err := New(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
