package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mpataki/stride/internal/chart"
	"github.com/mpataki/stride/internal/config"
	"github.com/mpataki/stride/internal/dataset"
	"github.com/mpataki/stride/internal/logging"
	"github.com/mpataki/stride/internal/models"
	"github.com/mpataki/stride/internal/oracle"
	"github.com/mpataki/stride/internal/sandbox"
	"github.com/mpataki/stride/internal/storage"
	"github.com/mpataki/stride/internal/tui"
	"github.com/mpataki/stride/internal/workflow"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stride",
		Short: "Ask questions about your running data",
		Long:  "Stride answers natural-language questions about your running data,\ngenerating and executing analysis code against your activity export.",
		RunE:  runTUI,
	}

	rootCmd.AddCommand(newAskCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newSchemaCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app is everything a command needs, wired once.
type app struct {
	cfg    *config.Config
	store  *storage.Storage
	ds     *dataset.Dataset
	engine *workflow.Engine
	log    logging.FileLogger
}

func newApp() (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logging.NewFileLogger(cfg.DataDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ds, err := dataset.LoadCSV(cfg.DatasetPath)
	if err != nil {
		store.Close()
		log.Close()
		return nil, fmt.Errorf("failed to load dataset %s: %w", cfg.DatasetPath, err)
	}

	engine := workflow.New(workflow.Options{
		Oracle: oracle.NewOpenAI(oracle.OpenAIOptions{
			BaseURL: cfg.Oracle.BaseURL,
			APIKey:  cfg.Oracle.APIKey,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.Oracle.Timeout,
			Logger:  log.Logger,
		}),
		Executor: sandbox.New(sandbox.Options{
			Timeout:         cfg.Sandbox.Timeout,
			RegistryMaxSize: cfg.Sandbox.RegistryMaxSize,
		}, log.Logger),
		Charts:                chart.NewFileStore(cfg.LatestChartPath()),
		ScratchDir:            cfg.ScratchDir(),
		MaxGenerationAttempts: cfg.Workflow.MaxGenerationAttempts,
		MaxExecRegenerations:  cfg.Workflow.MaxExecRegenerations,
		Logger:                log.Logger,
	})

	return &app{cfg: cfg, store: store, ds: ds, engine: engine, log: log}, nil
}

func (a *app) close() {
	a.store.Close()
	a.log.Close()
}

// ask runs one query and records it in the run history.
func (a *app) ask(ctx context.Context, query string, includeChart bool) (*models.Run, error) {
	record := &models.Run{
		Query:  query,
		Status: models.RunStatusRunning,
	}
	id, err := a.store.CreateRun(record)
	if err != nil {
		// The answer still matters even if the audit log is broken.
		a.log.Logger.Warn("failed to record run", "error", err)
	} else {
		record.ID = id
	}

	run := a.engine.Run(ctx, query, a.ds, includeChart)
	record.UID = run.Query.ID
	resultRecord(record, run)

	if record.ID == 0 {
		return record, nil
	}

	for _, att := range run.AttemptModels(record.ID) {
		if _, err := a.store.CreateAttempt(att); err != nil {
			a.log.Logger.Warn("failed to record attempt", "error", err)
		}
	}

	status := models.RunStatusComplete
	if !run.Result.Succeeded {
		status = models.RunStatusFailed
	}
	if err := a.store.MarkRunComplete(record, status); err != nil {
		a.log.Logger.Warn("failed to finalize run record", "error", err)
	}
	return record, nil
}

func resultRecord(record *models.Run, run *workflow.Run) {
	record.Response = run.Result.Text
	record.ChartPath = run.Result.ChartPath
	record.Error = run.Result.Err
	record.DurationMS = run.Result.Duration.Milliseconds()
}

func runTUI(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	p := tea.NewProgram(tui.NewApp(a.store, a.ask), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			includeChart, _ := cmd.Flags().GetBool("chart")
			datasetPath, _ := cmd.Flags().GetString("dataset")
			if datasetPath != "" {
				os.Setenv("STRIDE_DATASET", datasetPath)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.ask(cmd.Context(), args[0], includeChart)
			if err != nil {
				return err
			}

			fmt.Println(run.Response)
			if run.ChartPath != "" {
				fmt.Printf("\nChart: %s\n", run.ChartPath)
			}
			if run.Error != "" {
				fmt.Fprintf(os.Stderr, "\nPartial failure: %s\n", run.Error)
			}
			if run.Status == models.RunStatusFailed {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().Bool("chart", false, "Allow a chart in the answer")
	cmd.Flags().StringP("dataset", "d", "", "Path to the activities CSV (default: configured dataset)")
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			runs, err := a.store.ListRuns(20)
			if err != nil {
				return err
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			for _, run := range runs {
				fmt.Printf("#%d [%s] %s %s\n",
					run.ID, run.Status,
					run.CreatedAt.Format("2006-01-02 15:04"),
					truncate(run.Query, 50))
			}

			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			run, err := a.store.GetRun(runID)
			if err != nil {
				return fmt.Errorf("failed to get run: %w", err)
			}

			fmt.Printf("Run #%d\n", run.ID)
			fmt.Printf("Status: %s\n", run.Status)
			fmt.Printf("Query: %s\n", run.Query)
			if run.DurationMS > 0 {
				fmt.Printf("Duration: %s\n", time.Duration(run.DurationMS)*time.Millisecond)
			}
			if run.ChartPath != "" {
				fmt.Printf("Chart: %s\n", run.ChartPath)
			}
			if run.Error != "" {
				fmt.Printf("Error: %s\n", run.Error)
			}

			attempts, err := a.store.GetAttemptsForRun(runID)
			if err != nil {
				return err
			}

			if len(attempts) > 0 {
				fmt.Println("\nAttempts:")
				for _, att := range attempts {
					verdict := "accepted"
					if !att.Accepted {
						verdict = "rejected: " + att.Reason
					}
					fmt.Printf("  %s #%d [%s]\n", att.Branch, att.AttemptNum, verdict)
				}
			}

			if run.Response != "" {
				fmt.Printf("\n%s\n", run.Response)
			}

			return nil
		},
	}
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run ID: %w", err)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteRun(runID); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}

			fmt.Printf("Deleted run #%d\n", runID)
			return nil
		},
	}
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the dataset schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Printf("%s (%d rows)\n\n", a.cfg.DatasetPath, a.ds.RowCount())
			fmt.Println(a.ds.Schema().Describe())
			return nil
		},
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
