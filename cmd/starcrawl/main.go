package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"starcrawl.shikanime.studio/cmd/starcrawl/app"
	"starcrawl.shikanime.studio/internal/config"
	"starcrawl.shikanime.studio/internal/crawler"
	"starcrawl.shikanime.studio/internal/database"
	"starcrawl.shikanime.studio/internal/dump"
	"starcrawl.shikanime.studio/internal/memstore"
	"starcrawl.shikanime.studio/internal/metrics"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	shutdownTelemetry()
	stop()
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:               "starcrawl",
		Short:             "Crawl GitHub repositories and record their star counts",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	crawlCmd = &cobra.Command{
		Use:   "crawl",
		Short: "Search GitHub and store repositories until the target is reached",
		RunE:  runCrawl,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations",
	}
	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	}
	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Revert all applied migrations",
		RunE:  runMigrateDown,
	}
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Export repositories with their latest star counts",
		RunE:  runDump,
	}

	cfg               *config.Config
	shutdownTelemetry = func() {}

	// Flags
	envFile   string
	dryRun    bool
	format    string
	outputDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("dsn", "", "Database source name in the format driver://dataSourceName. Falls back to DSN and PG* environment variables")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error. Falls back to LOG_LEVEL")

	crawlCmd.Flags().Int("target", 100000, "Number of repositories to store. Falls back to TARGET_REPOSITORIES")
	crawlCmd.Flags().Int("batch-size", 100, "Repositories requested per search (max 100). Falls back to BATCH_SIZE")
	crawlCmd.Flags().String("executor", "graphql", "GitHub API used for searches: graphql or rest. Falls back to GITHUB_EXECUTOR")
	crawlCmd.Flags().String("metrics-addr", "", "Address serving Prometheus metrics, disabled when empty. Falls back to METRICS_ADDR")
	crawlCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Keep results in memory instead of PostgreSQL")

	dumpCmd.Flags().StringVar(&format, "format", string(dump.FormatBoth), "Output format: csv, json or both")
	dumpCmd.Flags().StringVar(&outputDir, "output-dir", ".", "Output directory for dump files")

	migrateCmd.AddCommand(upCmd, downCmd)
	rootCmd.AddCommand(crawlCmd, migrateCmd, dumpCmd)
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"dsn":          "DSN",
	"log-level":    "LOG_LEVEL",
	"target":       "TARGET_REPOSITORIES",
	"batch-size":   "BATCH_SIZE",
	"executor":     "GITHUB_EXECUTOR",
	"metrics-addr": "METRICS_ADDR",
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg = config.New()
	for name, key := range flagKeys {
		if cmd.Flags().Lookup(name) == nil {
			continue
		}
		if err := cfg.BindFlag(key, cmd.Flags(), name); err != nil {
			return err
		}
	}
	config.SetupLog(cfg)
	shutdown, err := config.SetupTelemetry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	shutdownTelemetry = shutdown
	return nil
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if err := cfg.Validate(); err != nil {
		return err
	}
	runID := uuid.NewString()
	log := slog.Default().With("run_id", runID)
	ctx, span := otel.Tracer("starcrawl/cmd").Start(ctx, "crawl")
	span.SetAttributes(attribute.String("run_id", runID), attribute.Bool("dry_run", dryRun))
	defer span.End()

	var store crawler.Store
	if dryRun {
		log.InfoContext(ctx, "dry run, results are kept in memory")
		store = memstore.New()
	} else {
		db, err := database.NewForConfig(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return err
		}
		store = db
	}

	b, err := app.NewBudget(cfg)
	if err != nil {
		return err
	}
	ex, err := app.NewExecutor(ctx, cfg, b)
	if err != nil {
		return err
	}
	ctrl, err := app.NewController(cfg, ex, store, b, log, time.Now())
	if err != nil {
		return err
	}

	if addr := cfg.GetMetricsAddr(); addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, addr); err != nil {
				log.ErrorContext(ctx, "metrics server failed", "error", err)
			}
		}()
	}

	before, err := store.RepositoryCount(ctx)
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "starting crawl",
		"target", cfg.GetTargetRepositories(), "batch_size", cfg.GetBatchSize(), "stored", before)
	start := time.Now()
	res, runErr := ctrl.Run(ctx)
	after, err := store.RepositoryCount(context.WithoutCancel(ctx))
	if err != nil {
		log.WarnContext(ctx, "failed to count stored repositories", "error", err)
		after = before
	}
	app.Summary{
		Result:  res,
		Target:  cfg.GetTargetRepositories(),
		Before:  before,
		After:   after,
		Elapsed: time.Since(start),
	}.Log(ctx, log)
	if errors.Is(runErr, context.Canceled) {
		log.WarnContext(ctx, "crawl interrupted")
		return nil
	}
	return runErr
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	mg, err := database.NewMigratorForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	mg, err := database.NewMigratorForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Down()
}

func runDump(cmd *cobra.Command, _ []string) error {
	f, err := dump.ParseFormat(format)
	if err != nil {
		return err
	}
	db, err := database.NewForConfig(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	paths, err := dump.Export(cmd.Context(), db, f, outputDir, time.Now())
	if err != nil {
		return err
	}
	slog.InfoContext(cmd.Context(), "dump completed", "files", paths)
	return nil
}
