package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	demoMode            bool
	batchLimit          int
	scheduleMode        bool
	testConnectionsMode bool
	createTemplateMode  bool
	logLevel            string
	settingsFile        string
	envFile             string
)

var errConnectionsFailed = errors.New("one or more connections failed")

var rootCmd = &cobra.Command{
	Use:   "blog-agent",
	Short: "Automated SEO blog writer and WordPress publisher",
	Long: `Reads blog topics from Google Sheets, writes SEO articles with an LLM,
finds a featured image and publishes the result to WordPress.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := selectMode(cmd)
		if mode == "" {
			return cmd.Help()
		}

		cfg, err := LoadConfig(settingsFile, envFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if logLevel != "" {
			cfg.Settings.Logging.Level = logLevel
		}
		logger, err := newLogger(cfg.Settings.Logging)
		if err != nil {
			return fmt.Errorf("setting up logging: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch mode {
		case "demo":
			return runDemo(ctx, cfg, logger)
		case "batch":
			return runBatch(ctx, cfg, logger, batchLimit)
		case "schedule":
			return runSchedule(ctx, cfg, logger)
		case "test-connections":
			return runTestConnections(ctx, cfg, logger)
		case "create-template":
			return runCreateTemplate(ctx, cfg, logger)
		}
		return nil
	},
}

func init() {
	bindFlags(rootCmd)
}

func bindFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&demoMode, "demo", false, "Generate a demo post without publishing")
	cmd.Flags().IntVar(&batchLimit, "batch", 0, "Process up to N pending topics (0 for all)")
	cmd.Flags().BoolVar(&scheduleMode, "schedule", false, "Run the automated scheduler")
	cmd.Flags().BoolVar(&testConnectionsMode, "test-connections", false, "Test API, WordPress and Sheets connections")
	cmd.Flags().BoolVar(&createTemplateMode, "create-template", false, "Create the Topics and Logs sheets")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARNING or ERROR")
	cmd.Flags().StringVar(&settingsFile, "config", "", "Path to settings YAML (default .blog-agent/settings.yaml)")
	cmd.Flags().StringVar(&envFile, "env", "config/.env", "Path to dotenv file")
}

// selectMode returns the first requested mode. Modes never combine.
func selectMode(cmd *cobra.Command) string {
	switch {
	case demoMode:
		return "demo"
	case cmd.Flags().Changed("batch"):
		return "batch"
	case scheduleMode:
		return "schedule"
	case testConnectionsMode:
		return "test-connections"
	case createTemplateMode:
		return "create-template"
	}
	return ""
}

func runDemo(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := cfg.RequireGeneration(); err != nil {
		return err
	}
	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	processor := NewBlogProcessor(cfg, NewContentGenerator(completer, cfg.Settings, logger), nil, nil, nil, logger)

	post, err := processor.GenerateDemo(ctx, cfg.Settings.Demo.WorkItem())
	if err != nil {
		return fmt.Errorf("demo generation failed: %w", err)
	}
	fmt.Println(renderDemoReport(post))
	return nil
}

func runBatch(ctx context.Context, cfg *Config, logger *slog.Logger, limit int) error {
	processor, notify, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	stats, err := processor.ProcessBatch(ctx, limit)
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}
	notify.SendBatchSummary(ctx, stats)
	fmt.Println(renderBatchReport(stats))
	return nil
}

func runSchedule(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	processor, notify, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	job := func(ctx context.Context, limit int) {
		stats, err := processor.ProcessBatch(ctx, limit)
		if err != nil {
			logger.Error("scheduled batch failed", "error", err)
			return
		}
		notify.SendBatchSummary(ctx, stats)
	}
	return NewScheduler(cfg.Settings.Schedule, job, logger).Run(ctx)
}

func runTestConnections(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	var checks []ConnectionCheck

	generation := ConnectionCheck{Name: cfg.Settings.Generation.Provider, Detail: cfg.Settings.Generation.Model}
	if err := cfg.RequireGeneration(); err != nil {
		generation.Err = err
	} else if completer, err := newCompleter(cfg); err != nil {
		generation.Err = err
	} else {
		generation.Err = completer.Ping(ctx)
	}
	checks = append(checks, generation)

	if len(cfg.Sites) == 0 {
		checks = append(checks, ConnectionCheck{Name: "WordPress", Err: cfg.RequireSites()})
	}
	for _, site := range cfg.Sites {
		check := ConnectionCheck{Name: site.Name, Detail: site.URL}
		client := NewWordPressClient(site, cfg.Settings.Publishing.Timeout, cfg.Settings.Publishing.Retry, logger)
		ok, err := client.TestConnection(ctx)
		switch {
		case err != nil:
			check.Err = err
		case !ok:
			check.Err = ErrConnectionFailed
		}
		checks = append(checks, check)
	}

	sheetsCheck := ConnectionCheck{Name: "Google Sheets", Detail: cfg.Secrets.SheetID}
	if err := cfg.RequireSheets(); err != nil {
		sheetsCheck.Err = err
	} else if store, err := NewSheetsStore(ctx, cfg.Secrets, cfg.Settings.Sheets, logger); err != nil {
		sheetsCheck.Err = err
	} else {
		sheetsCheck.Err = store.Ping(ctx)
	}
	checks = append(checks, sheetsCheck)

	fmt.Println(renderConnectionReport(checks))
	if !allPassed(checks) {
		return errConnectionsFailed
	}
	return nil
}

func runCreateTemplate(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := cfg.RequireSheets(); err != nil {
		return err
	}
	store, err := NewSheetsStore(ctx, cfg.Secrets, cfg.Settings.Sheets, logger)
	if err != nil {
		return err
	}
	if err := store.CreateTemplate(ctx); err != nil {
		return fmt.Errorf("creating template sheets: %w", err)
	}
	fmt.Println("✓ Template sheets created")
	return nil
}

// newPipeline builds the processor used by batch and schedule modes.
func newPipeline(ctx context.Context, cfg *Config, logger *slog.Logger) (*BlogProcessor, *NotificationService, error) {
	if err := errors.Join(cfg.RequireGeneration(), cfg.RequireSheets(), cfg.RequireSites()); err != nil {
		return nil, nil, err
	}
	completer, err := newCompleter(cfg)
	if err != nil {
		return nil, nil, err
	}
	images, err := newImageWaterfall(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	store, err := NewSheetsStore(ctx, cfg.Secrets, cfg.Settings.Sheets, logger)
	if err != nil {
		return nil, nil, err
	}
	notify := NewNotificationService(newNotifiers(cfg.Secrets), logger)

	generator := NewContentGenerator(completer, cfg.Settings, logger)
	return NewBlogProcessor(cfg, generator, images, store, notify, logger), notify, nil
}

// execute runs cmd and reports a failure on stderr, keeping stdout for reports.
func execute(cmd *cobra.Command, stderr io.Writer) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(rootCmd, os.Stderr))
}
