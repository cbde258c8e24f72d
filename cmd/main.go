package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fs-converter/internal/config"
	"fs-converter/internal/converter"
	"fs-converter/internal/database"
	"fs-converter/internal/failurelog"
	"fs-converter/internal/httpclient"
	"fs-converter/internal/jobs"
	"fs-converter/internal/legacy"
	"fs-converter/internal/search"
	"fs-converter/internal/storage"
	"fs-converter/pkg/types"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	jobNames   []string
	projectDir string // Set at build time with -ldflags
)

func main() {
	root := &cobra.Command{
		Use:           "fs-converter",
		Short:         "Migrate legacy file references into the object storage service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: config.yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the enabled migration jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJobs(cmd.Context(), cmd.OutOrStdout())
		},
	}
	runCmd.Flags().StringSliceVar(&jobNames, "job", nil, "Job to run, repeatable (default: every enabled job)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the registered jobs",
		Run: func(cmd *cobra.Command, _ []string) {
			listJobs(cmd.OutOrStdout())
		},
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show working directory and project directory information",
		Run: func(cmd *cobra.Command, _ []string) {
			displayInfo(cmd.OutOrStdout())
		},
	}

	root.AddCommand(runCmd, listCmd, infoCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runJobs(ctx context.Context, out io.Writer) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg)
	logrus.Info("Starting fs-converter")

	configured, err := jobs.Configure(jobs.All(envFrom(cfg)), cfg.Jobs)
	if err != nil {
		return err
	}
	selected, err := jobs.Select(configured, jobNames)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		logrus.Warn("No jobs selected")
		return nil
	}

	shared, cleanup, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	runID := uuid.NewString()
	showProgress := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("NO_PROGRESS") == ""

	logrus.WithField("run_id", runID).Infof("Starting processing of %d jobs", len(selected))

	failed := 0
	for i, job := range selected {
		if ctx.Err() != nil {
			logrus.Warn("Interrupted, remaining jobs not started")
			failed++
			break
		}

		logrus.Infof("Processing job %d/%d: %s (%s.%s)", i+1, len(selected), job.Name, job.Database, job.Table)

		summary, err := runJob(ctx, cfg, job, shared, converter.Options{
			Env:          envFrom(cfg),
			TmpDir:       cfg.Processing.TmpDir,
			RunID:        runID,
			DryRun:       cfg.Processing.DryRun,
			PendingOnly:  cfg.Processing.PendingOnly,
			ShowProgress: showProgress,
			Out:          out,
		})
		if err != nil {
			failed++
			var fmErr converter.FatalMigrationError
			if errors.As(err, &fmErr) {
				fmt.Fprintf(os.Stderr, "FATAL: %v\n", fmErr)
			}
			if !cfg.Processing.ContinueOnError {
				break
			}
			logrus.Errorf("Job %s failed, continuing: %v", job.Name, err)
			continue
		}

		logrus.Infof("Completed job %s: %s", job.Name, summary)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(selected))
	}

	logrus.Info("fs-converter completed successfully")
	return nil
}

// runJob owns the job's connection and failure log for the job's lifetime.
func runJob(ctx context.Context, cfg *types.Config, job converter.Job, deps converter.Deps, opts converter.Options) (*converter.Summary, error) {
	db, err := database.Connect(&cfg.MySQL, job.Database)
	if err != nil {
		return nil, converter.FatalMigrationError{Job: job.Name, Err: err}
	}
	defer database.CloseConnection(db)

	failures, err := failurelog.Open(cfg.Processing.FailureLogDir, job.Name)
	if err != nil {
		return nil, converter.FatalMigrationError{Job: job.Name, Err: err}
	}
	defer failures.Close()

	deps.DB = db
	deps.Failures = failures
	deps.Log = logrus.WithField("run_id", opts.RunID)

	summary, err := converter.New(job, deps, opts).Run(ctx)
	if err != nil {
		database.PrintRecentLogTail(os.Stderr, failures.Path(), 0)
	}
	return summary, err
}

// buildDeps creates the collaborators shared by every job. The returned
// cleanup closes whatever was opened.
func buildDeps(cfg *types.Config) (converter.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	client := httpclient.New(httpclient.Config{
		Timeout:               cfg.HTTP.Timeout,
		ConnectTimeout:        cfg.HTTP.ConnectTimeout,
		ResponseHeaderTimeout: cfg.HTTP.ResponseHeaderTimeout,
	})

	var deps converter.Deps

	// Dry runs never resolve ids, so the lookup schema is not needed.
	if !cfg.Processing.DryRun {
		lookupDB, err := database.Connect(&cfg.MySQL, cfg.Legacy.Database)
		if err != nil {
			return deps, cleanup, fmt.Errorf("failed to connect to legacy lookup database: %w", err)
		}
		closers = append(closers, func() { database.CloseConnection(lookupDB) })

		deps.Resolver = legacy.NewResolver(lookupDB, client, legacy.Options{
			LookupTable:       cfg.Legacy.LookupTable,
			RequestsPerSecond: cfg.Legacy.RequestsPerSecond,
			CacheTTL:          cfg.Legacy.LookupCacheTTL,
		})
	}

	switch cfg.Uploader.Backend {
	case config.BackendMinio:
		uploader, err := storage.NewMinioUploader(cfg.Uploader.Minio)
		if err != nil {
			cleanup()
			return deps, func() {}, err
		}
		deps.Uploader = uploader
		logrus.Infof("Uploading directly to bucket %s at %s", cfg.Uploader.Minio.Bucket, cfg.Uploader.Minio.Endpoint)
	default:
		deps.Uploader = storage.NewHTTPUploader(client, cfg.FS.UploadAPI, cfg.FS.OriginalUploadAPI)
	}

	if cfg.Search.Enabled {
		mirror, err := search.NewQdrantMirror(cfg.Search)
		if err != nil {
			cleanup()
			return deps, func() {}, err
		}
		closers = append(closers, func() { mirror.Close() })
		deps.Mirror = mirror
		logrus.Infof("Mirroring updates into search collection %s", cfg.Search.Collection)
	}

	return deps, cleanup, nil
}

func envFrom(cfg *types.Config) converter.Env {
	return converter.Env{
		DefaultSpaceID: cfg.FS.DefaultSpaceID,
		ReadBucket:     cfg.FS.ReadBucket,
		StripPrefixes:  cfg.Legacy.StripPrefixes,
		GofastHost:     cfg.Legacy.GofastHost,
	}
}

// listJobs prints the registry. Overrides are applied when a configuration
// can be loaded.
func listJobs(out io.Writer) {
	all := jobs.All(converter.Env{})
	if cfg, err := config.LoadConfig(configPath); err == nil {
		all = jobs.All(envFrom(cfg))
		if configured, err := jobs.Configure(all, cfg.Jobs); err == nil {
			enabled := make(map[string]converter.Job, len(configured))
			for _, j := range configured {
				enabled[j.Name] = j
			}
			for i, j := range all {
				if c, ok := enabled[j.Name]; ok {
					all[i] = c
				} else {
					all[i].Description += " (disabled)"
				}
			}
		}
	}

	fmt.Fprintf(out, "%-14s %-26s %-24s %s\n", "JOB", "DATABASE", "TABLE", "DESCRIPTION")
	for _, j := range all {
		fmt.Fprintf(out, "%-14s %-26s %-24s %s\n", j.Name, j.Database, j.Table, j.Description)
	}
}

func displayInfo(out io.Writer) {
	workingDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(out, "Error getting working directory: %v\n", err)
		return
	}

	fmt.Fprintf(out, "working_dir: %s\n", workingDir)
	fmt.Fprintf(out, "project_dir: %s\n", projectDir)
	fmt.Fprintf(out, "jobs: %d\n", len(jobs.All(converter.Env{})))
}

func setupLogging(config *types.Config) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// LOG_LEVEL wins over the config file
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = config.Processing.LogLevel
		if level == "" {
			level = "info"
		}
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', defaulting to 'info'", level)
		logLevel = logrus.InfoLevel
	}

	logrus.SetLevel(logLevel)

	logPath := config.Processing.LogPath
	if logPath == "" {
		logPath = "logs/fs-converter.log"
	}

	if !filepath.IsAbs(logPath) {
		wd, err := os.Getwd()
		if err != nil {
			logrus.Warnf("Failed to get working directory: %v, logging to stderr", err)
			return
		}
		logPath = filepath.Join(wd, logPath)
	}

	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logrus.Warnf("Failed to create log directory %s: %v, logging to stderr", logDir, err)
		return
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.Warnf("Failed to open log file %s: %v, logging to stderr", logPath, err)
		return
	}

	// The spinner and progress bar draw on stderr and PROGRESS/FINAL lines go
	// to stdout; structured logs stay in the file so they never interleave.
	logrus.SetOutput(logFile)
	log.SetOutput(logFile)
	logrus.Infof("Logging to file: %s", logPath)
}
