package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairwaylabs/coursehound/internal/api"
	"github.com/fairwaylabs/coursehound/internal/config"
	"github.com/fairwaylabs/coursehound/internal/fetcher"
	"github.com/fairwaylabs/coursehound/internal/manager"
	"github.com/fairwaylabs/coursehound/internal/media"
	"github.com/fairwaylabs/coursehound/internal/observability"
	"github.com/fairwaylabs/coursehound/internal/robots"
	"github.com/fairwaylabs/coursehound/internal/types"
)

var (
	cfgFile string
	verbose bool

	targetName   string
	priorityName string
	javascript   bool
	waitSelector string
	screenshots  bool
	timeoutFlag  string
	outputPath   string
	inputPath    string

	robotsAgent string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursehound",
		Short: "CourseHound — polite golf course scraper",
		Long: `CourseHound collects golf course data from course websites.

Features:
  • robots.txt compliance with cached per-domain policies
  • Static HTTP extraction with CSS selector cascades
  • Headless browser rendering for JavaScript-heavy sites
  • Priority queueing with per-domain rate limiting
  • Retry with exponential backoff and per-domain circuit breakers
  • REST API and Prometheus metrics endpoint`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(robotsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [url...]",
		Short: "Scrape one or more course URLs",
		Long:  "Scrape the given course URLs (or a JSON target file via --input) and print the extracted records as JSON.",
		RunE:  runScrape,
	}

	cmd.Flags().StringVar(&targetName, "name", "", "course name hint used when extraction finds none")
	cmd.Flags().StringVarP(&priorityName, "priority", "p", "medium", "request priority: low, medium, high, critical")
	cmd.Flags().BoolVarP(&javascript, "javascript", "j", false, "render with a headless browser")
	cmd.Flags().StringVar(&waitSelector, "wait-selector", "", "CSS selector to wait for before extraction (browser mode)")
	cmd.Flags().BoolVar(&screenshots, "screenshots", false, "capture a full-page screenshot (browser mode)")
	cmd.Flags().StringVar(&timeoutFlag, "timeout", "", "per-request timeout override, e.g. 45s")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write results to this file instead of stdout")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "JSON file with an array of targets")

	return cmd
}

// runScrape executes the scrape command.
func runScrape(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	targets, err := collectTargets(args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets: pass URLs or --input")
	}

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}

	mgr, metrics, err := buildManager(cfg, logger, opts.JavaScript)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	start := time.Now()
	results, failed := scrapeAll(ctx, mgr, targets, opts, logger)

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Cleanup(cleanupCtx); err != nil {
		logger.Warn("cleanup incomplete", "error", err)
	}

	if err := writeResults(results); err != nil {
		return err
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stderr, "\n✅ Scraped %d/%d targets in %s\n",
		len(results), len(targets), elapsed.Round(time.Millisecond))
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "   Failed:  %d (see log for details)\n", failed)
		return fmt.Errorf("%d of %d targets failed", failed, len(targets))
	}
	return nil
}

// scrapeAll submits every target to the manager at once so priority
// ordering and per-domain pacing apply across the whole batch; the manager's
// concurrency cap bounds actual dispatch. Results keep the input order.
func scrapeAll(ctx context.Context, mgr *manager.Manager, targets []*types.ScrapingTarget, opts *types.ScrapingOptions, logger *slog.Logger) ([]*types.ProcessingResult, int) {
	indexed := make([]*types.ProcessingResult, len(targets))
	var (
		mu     sync.Mutex
		failed int
		wg     sync.WaitGroup
	)

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target *types.ScrapingTarget) {
			defer wg.Done()
			result, err := mgr.AddRequest(ctx, target, opts)
			if err != nil {
				logger.Error("target failed", "id", target.ID, "url", target.URL, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			indexed[i] = result
		}(i, target)
	}
	wg.Wait()

	results := make([]*types.ProcessingResult, 0, len(targets))
	for _, r := range indexed {
		if r != nil {
			results = append(results, r)
		}
	}
	return results, failed
}

// collectTargets merges positional URLs and the --input file.
func collectTargets(args []string) ([]*types.ScrapingTarget, error) {
	priority, err := types.ParsePriority(priorityName)
	if err != nil {
		return nil, err
	}

	var targets []*types.ScrapingTarget
	for i, rawURL := range args {
		if err := config.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
		targets = append(targets, &types.ScrapingTarget{
			ID:       fmt.Sprintf("cli-%d", i+1),
			Name:     targetName,
			URL:      rawURL,
			Priority: priority,
		})
	}

	if inputPath != "" {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		var fileTargets []*types.ScrapingTarget
		if err := json.Unmarshal(data, &fileTargets); err != nil {
			return nil, fmt.Errorf("parse input file: %w", err)
		}
		for i, t := range fileTargets {
			if t.ID == "" {
				t.ID = fmt.Sprintf("file-%d", i+1)
			}
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("target %s: %w", t.ID, err)
			}
		}
		targets = append(targets, fileTargets...)
	}
	return targets, nil
}

// buildOptions translates scrape flags into scraping options.
func buildOptions(cfg *config.Config) (*types.ScrapingOptions, error) {
	opts := &types.ScrapingOptions{
		JavaScript:      javascript,
		WaitForSelector: waitSelector,
		Screenshots:     screenshots,
	}
	if waitSelector != "" || screenshots {
		opts.JavaScript = true
	}
	if timeoutFlag != "" {
		d, err := time.ParseDuration(timeoutFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// buildManager wires the full pipeline. The browser backend is only
// created when a command needs it.
func buildManager(cfg *config.Config, logger *slog.Logger, needBrowser bool) (*manager.Manager, *observability.Metrics, error) {
	metrics := observability.NewMetrics(logger)
	robotsCache := robots.New(&cfg.Robots, logger)

	static, err := fetcher.NewStaticFetcher(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create static fetcher: %w", err)
	}

	var dynamic fetcher.Fetcher
	if needBrowser {
		store, err := media.NewStore(cfg.Media.Dir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create media store: %w", err)
		}
		dynamic = fetcher.NewDynamicFetcher(cfg, store, logger)
	}

	return manager.New(cfg, robotsCache, static, dynamic, metrics, logger), metrics, nil
}

// writeResults prints results as JSON to stdout or --output.
func writeResults(results []*types.ProcessingResult) error {
	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// robotsCmd creates the "robots" subcommand group.
func robotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "robots",
		Short: "Inspect robots.txt policies",
	}
	cmd.AddCommand(robotsCheckCmd())
	cmd.AddCommand(robotsValidateCmd())
	return cmd
}

// robotsCheckCmd creates "robots check".
func robotsCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [url]",
		Short: "Check whether a URL may be scraped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.ValidateURL(args[0]); err != nil {
				return fmt.Errorf("invalid URL: %w", err)
			}

			cache := robots.New(&cfg.Robots, logger)
			defer cache.Close()

			agent := robotsAgent
			if agent == "" {
				agent = cfg.Scraper.UserAgent
			}
			result := cache.CanScrape(cmd.Context(), args[0], agent)

			if result.Allowed {
				fmt.Printf("✅ Allowed (crawl delay %s)\n", result.CrawlDelay)
			} else {
				fmt.Printf("❌ Disallowed: %s\n", result.Reason)
			}
			if result.Reason != "" && result.Allowed {
				fmt.Printf("   Note: %s\n", result.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&robotsAgent, "agent", "", "user agent to evaluate (default: configured agent)")
	return cmd
}

// robotsValidateCmd creates "robots validate".
func robotsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a robots.txt file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			report := robots.ValidateRobotsTxt(string(data))

			for _, e := range report.Errors {
				fmt.Printf("ERROR   %s\n", e)
			}
			for _, w := range report.Warnings {
				fmt.Printf("WARNING %s\n", w)
			}
			if report.Valid {
				fmt.Printf("✅ %s is valid (%d warnings)\n", args[0], len(report.Warnings))
				return nil
			}
			return fmt.Errorf("%s has %d errors", args[0], len(report.Errors))
		},
	}
}

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			metrics := observability.NewMetrics(logger)
			robotsCache := robots.New(&cfg.Robots, logger)
			static, err := fetcher.NewStaticFetcher(cfg, logger)
			if err != nil {
				return fmt.Errorf("create static fetcher: %w", err)
			}
			store, err := media.NewStore(cfg.Media.Dir, logger)
			if err != nil {
				return fmt.Errorf("create media store: %w", err)
			}
			dynamic := fetcher.NewDynamicFetcher(cfg, store, logger)
			mgr := manager.New(cfg, robotsCache, static, dynamic, metrics, logger)

			server := api.NewServer(cfg.API.Port, mgr, robotsCache, metrics, logger)
			if err := server.Start(); err != nil {
				return fmt.Errorf("start API server: %w", err)
			}
			if cfg.Metrics.Enabled {
				if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
					logger.Warn("failed to start metrics server", "error", err)
				}
			}

			logger.Info("serving", "api_port", cfg.API.Port)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			logger.Info("received signal, shutting down...", "signal", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return mgr.Cleanup(ctx)
		},
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("CourseHound %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Scraper:\n")
			fmt.Printf("  User Agent:        %s\n", cfg.Scraper.UserAgent)
			fmt.Printf("  Concurrency:       %d\n", cfg.Scraper.Concurrency)
			fmt.Printf("  Default Delay:     %s\n", cfg.Scraper.DefaultDelay)
			fmt.Printf("  Strict Extraction: %v\n", cfg.Scraper.StrictExtraction)
			fmt.Printf("\nRobots:\n")
			fmt.Printf("  Bot Name:          %s\n", cfg.Robots.BotName)
			fmt.Printf("  Default Delay:     %s\n", cfg.Robots.DefaultDelay)
			fmt.Printf("  Cache TTL:         %s\n", cfg.Robots.CacheTTL)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Timeout:           %s\n", cfg.Fetcher.Timeout)
			fmt.Printf("  Max Redirects:     %d\n", cfg.Fetcher.MaxRedirects)
			fmt.Printf("  Max Body Size:     %d bytes\n", cfg.Fetcher.MaxBodySize)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Max Browsers:      %d\n", cfg.Browser.MaxBrowsers)
			fmt.Printf("  Pages per Browser: %d\n", cfg.Browser.MaxPagesPerBrowser)
			fmt.Printf("  Session Timeout:   %s\n", cfg.Browser.SessionTimeout)
			fmt.Printf("\nRetry:\n")
			fmt.Printf("  Max Attempts:      %d\n", cfg.Retry.MaxAttempts)
			fmt.Printf("  Base Delay:        %s\n", cfg.Retry.BaseDelay)
			fmt.Printf("  Max Delay:         %s\n", cfg.Retry.MaxDelay)
			fmt.Printf("\nBreaker:\n")
			fmt.Printf("  Threshold:         %d\n", cfg.Breaker.Threshold)
			fmt.Printf("  Reset Timeout:     %s\n", cfg.Breaker.ResetTimeout)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.API.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.API.Port)
			fmt.Printf("\nMetrics:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Metrics.Enabled)
			fmt.Printf("  Port:              %d\n", cfg.Metrics.Port)
			return nil
		},
	}
}

// setupLogger creates a structured logger.
func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler)
}
