package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-issue-extractor/internal/app"
	"github.com/kurihiro0119/github-issue-extractor/internal/config"
	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
	"github.com/kurihiro0119/github-issue-extractor/internal/logger"
	"github.com/kurihiro0119/github-issue-extractor/pkg/client"
)

var (
	cfgFile    string
	outputJSON bool
	owner      string
	repoName   string
	token      string
	fresh      bool
)

var rootCmd = &cobra.Command{
	Use:   "issue-extractor",
	Short: "GitHub issue and pull request extractor",
	Long: `A CLI tool for extracting issues, pull requests, comments and commits
from a GitHub repository into a local database.

Extractions are checkpointed after every page, so a paused or interrupted
run picks up where it stopped.`,
	SilenceUsage: true,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run an extraction in the foreground",
	Long: `Resume the open extraction of a repository, or create one, and run it
to completion. Owner, repository and token fall back to OWNER_REPO,
NAME_REPO and GITHUB_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage extractions through the API server",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extractions",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsStartCmd = &cobra.Command{
	Use:   "start [id]",
	Short: "Start or resume an extraction on the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStart,
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause a running extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsPause,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (default $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	extractCmd.Flags().StringVar(&owner, "owner", "", "repository owner (default $OWNER_REPO)")
	extractCmd.Flags().StringVar(&repoName, "repo", "", "repository name (default $NAME_REPO)")
	extractCmd.Flags().StringVar(&token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	extractCmd.Flags().BoolVar(&fresh, "fresh", false, "delete stored data for the repository and start a new extraction")

	jobsStartCmd.Flags().StringVar(&token, "token", "", "GitHub token (default: the server's GITHUB_TOKEN)")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStartCmd)
	jobsCmd.AddCommand(jobsPauseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := domain.NewRepositoryIdentifier(
		firstNonEmpty(owner, os.Getenv("OWNER_REPO")),
		firstNonEmpty(repoName, os.Getenv("NAME_REPO")),
	)
	if err != nil {
		return err
	}
	tok := firstNonEmpty(token, cfg.GitHubToken)
	if tok == "" {
		return fmt.Errorf("a GitHub token is required: pass --token or set GITHUB_TOKEN")
	}

	zl, err := logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	a, err := app.New(cfg, zl)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			zl.Warn("failed to close resources", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Extracting %s...\n", repo)
	job, err := runExtraction(ctx, a, repo, tok)
	if err != nil {
		if job != nil {
			fmt.Fprintf(os.Stderr, "Extraction %s stopped after %d issues and %d pull requests\n",
				job.ID, job.TotalIssuesFetched, job.TotalPRsFetched)
		}
		return err
	}

	return printJob(job)
}

// runExtraction resumes the open job of repo, or clears stored data and runs
// a new job when --fresh is set
func runExtraction(ctx context.Context, a *app.App, repo domain.RepositoryIdentifier, tok string) (*domain.Extraction, error) {
	if !fresh {
		return a.Orchestrator.Run(ctx, repo, tok)
	}

	if err := a.Orchestrator.ClearRepository(ctx, repo); err != nil {
		return nil, err
	}
	job, err := a.Orchestrator.Create(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	if err := a.Orchestrator.Execute(ctx, repo, tok, job); err != nil {
		return job, err
	}
	return a.Orchestrator.Get(context.WithoutCancel(ctx), job.ID)
}

func apiClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.APIEndpoint), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	jobs, err := c.ListExtractions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list extractions: %w", err)
	}

	if outputJSON {
		return printJSON(jobs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Repository", "Status", "Step", "Issues", "PRs", "Progress", "Updated"})
	for _, job := range jobs {
		table.Append([]string{
			job.ID,
			job.Repository.String(),
			string(job.Status),
			stepOf(job),
			strconv.Itoa(job.TotalIssuesFetched),
			strconv.Itoa(job.TotalPRsFetched),
			fmt.Sprintf("%d%%", job.ProgressPercentage),
			job.UpdatedAt.Format(time.DateTime),
		})
	}
	table.Render()
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	job, err := c.GetExtraction(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get extraction: %w", err)
	}
	return printJob(job)
}

func runJobsStart(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	job, err := c.StartExtraction(cmd.Context(), args[0], token)
	if err != nil {
		return fmt.Errorf("failed to start extraction: %w", err)
	}
	if outputJSON {
		return printJSON(job)
	}
	fmt.Printf("Extraction %s started for %s\n", job.ID, job.Repository)
	return nil
}

func runJobsPause(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}
	job, err := c.PauseExtraction(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to pause extraction: %w", err)
	}
	if outputJSON {
		return printJSON(job)
	}
	fmt.Printf("Extraction %s paused at %d%%\n", job.ID, job.ProgressPercentage)
	return nil
}

func printJob(job *domain.Extraction) error {
	if outputJSON {
		return printJSON(job)
	}

	fmt.Printf("\n=== Extraction %s ===\n", job.ID)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Repository", job.Repository.String()})
	table.Append([]string{"Status", string(job.Status)})
	table.Append([]string{"Step", stepOf(job)})
	table.Append([]string{"Issues", countOf(job.TotalIssuesFetched, job.TotalIssuesExpected)})
	table.Append([]string{"Pull Requests", countOf(job.TotalPRsFetched, job.TotalPRsExpected)})
	table.Append([]string{"Progress", fmt.Sprintf("%d%%", job.ProgressPercentage)})
	table.Append([]string{"Issue Cursor", deref(job.LastIssueCursor)})
	table.Append([]string{"PR Cursor", deref(job.LastPRCursor)})
	table.Append([]string{"Started", timeOf(job.StartedAt)})
	table.Append([]string{"Finished", timeOf(job.FinishedAt)})
	if job.ErrorMessage != nil {
		table.Append([]string{"Error", *job.ErrorMessage})
	}
	table.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stepOf(job *domain.Extraction) string {
	if job.CurrentStep == nil {
		return "-"
	}
	return string(*job.CurrentStep)
}

func countOf(fetched int, expected *int) string {
	if expected == nil {
		return strconv.Itoa(fetched)
	}
	return fmt.Sprintf("%d / %d", fetched, *expected)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func timeOf(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateTime)
}
