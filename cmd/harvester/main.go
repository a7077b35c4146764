package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-reviews/config"
	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/scraper"
	"github.com/aluiziolira/go-scrape-reviews/session"
	"github.com/aluiziolira/go-scrape-reviews/store"
)

const usage = `Usage: harvester [flags]

Collects up to -quota reviews per book listed in -input and keeps them in
-output across runs. Pages are fetched over plain HTTP without running
scripts: review feeds are followed through their "next" links, and a feed
that only offers a script-driven "load more" button stops after its first
page. Reaching the quota on such feeds needs a script-capable browser
behind the session.Browser interface.

Flags:
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup, including the log
// file flush, happens before exit.
func run(args []string) int {
	defaults := config.DefaultConfig()
	if err := applyEnv(defaults); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		return 1
	}

	resolved := *defaults
	cfg := &resolved
	flags := flag.NewFlagSet("harvester", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	flags.StringVar(&cfg.InputFile, "input", defaults.InputFile, "Input CSV with Book ID, Title and Author columns")
	flags.StringVar(&cfg.OutputFile, "output", defaults.OutputFile, "Output file path")
	flags.StringVar(&cfg.OutputFormat, "format", defaults.OutputFormat, "Output format: csv, json, or dual")
	flags.StringVar(&cfg.CookieFile, "cookies", defaults.CookieFile, "Saved login cookies")
	flags.StringVar(&cfg.BaseURL, "base-url", defaults.BaseURL, "Catalog base URL")
	flags.IntVar(&cfg.ReviewQuota, "quota", defaults.ReviewQuota, "Reviews to collect per book")
	flags.IntVar(&cfg.MaxPages, "max-pages", defaults.MaxPages, "Maximum review pages per book (0 = until the feed ends)")
	delayMs := flags.Int("delay", int(defaults.Delay/time.Millisecond), "Delay between requests (milliseconds)")
	randomDelayMs := flags.Int("random-delay", int(defaults.RandomDelay/time.Millisecond), "Random jitter added to delay (milliseconds)")
	pauseMs := flags.Int("pause", int(defaults.BookPause/time.Millisecond), "Pause between books (milliseconds)")
	flags.DurationVar(&cfg.EntryTimeout, "entry-timeout", defaults.EntryTimeout, "Wait for the review feed link on a book page")
	flags.DurationVar(&cfg.FeedTimeout, "feed-timeout", defaults.FeedTimeout, "Wait for reviews on each feed page")
	flags.DurationVar(&cfg.LoadMoreTimeout, "load-more-timeout", defaults.LoadMoreTimeout, "Wait for the load more control")
	flags.BoolVar(&cfg.RespectRobotsTxt, "respect-robots", defaults.RespectRobotsTxt, "Respect robots.txt directives")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&cfg.LogFile, "log-file", defaults.LogFile, "Also write JSON logs to this file")
	flags.BoolVar(&cfg.Verbose, "v", false, "Enable verbose logging")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.BookPause = time.Duration(*pauseMs) * time.Millisecond
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	logger, level, closeLog, err := config.NewLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return 1
	}

	books, err := store.ReadBooks(cfg.InputFile)
	if err != nil {
		slog.Error("reading book list", slog.Any("error", err))
		return 1
	}
	snapshot, err := store.NewSnapshot(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	st, err := store.Open(books, snapshot)
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		return 1
	}

	slog.Info("starting harvest",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("books", len(books)),
		slog.Int("quota", cfg.ReviewQuota),
		slog.Int("stored", st.Len()),
	)

	s, err := scraper.NewScraper(cfg, sessionFactory(cfg))
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current page")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	result, err := s.Run(ctx, books, st)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("harvest failed", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if result != nil {
		printSummary(result, snapshot.Path())
	}
	if err != nil {
		return 1
	}
	return 0
}

// sessionFactory opens an HTTP session and signs it in, reusing the cookie
// cache when one exists.
func sessionFactory(cfg *config.Config) scraper.SessionFactory {
	return func(ctx context.Context) (session.Browser, error) {
		s, err := session.New(cfg)
		if err != nil {
			return nil, err
		}
		auth := &session.Authenticator{
			Cache:     session.CookieCache{Path: cfg.CookieFile},
			BaseURL:   cfg.BaseURL,
			UserAgent: cfg.UserAgent,
			Email:     cfg.Email,
			Password:  cfg.Password,
			Prompt:    os.Stdin,
			Out:       os.Stdout,
		}
		if err := auth.Login(ctx, s); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
}

// applyEnv overrides defaults from HARVEST_* variables and reads the login
// credentials.
func applyEnv(cfg *config.Config) error {
	texts := map[string]*string{
		"HARVEST_INPUT":        &cfg.InputFile,
		"HARVEST_OUTPUT":       &cfg.OutputFile,
		"HARVEST_FORMAT":       &cfg.OutputFormat,
		"HARVEST_COOKIES":      &cfg.CookieFile,
		"HARVEST_BASE_URL":     &cfg.BaseURL,
		"HARVEST_USER_AGENT":   &cfg.UserAgent,
		"HARVEST_METRICS_ADDR": &cfg.MetricsAddr,
		"HARVEST_LOG_FILE":     &cfg.LogFile,
		"GOODREADS_EMAIL":      &cfg.Email,
		"GOODREADS_PASSWORD":   &cfg.Password,
	}
	for key, target := range texts {
		if value, ok := config.EnvString(key); ok {
			*target = value
		}
	}

	ints := map[string]*int{
		"HARVEST_QUOTA":     &cfg.ReviewQuota,
		"HARVEST_MAX_PAGES": &cfg.MaxPages,
	}
	for key, target := range ints {
		value, ok, err := config.EnvInt(key)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	durations := map[string]*time.Duration{
		"HARVEST_DELAY":             &cfg.Delay,
		"HARVEST_RANDOM_DELAY":      &cfg.RandomDelay,
		"HARVEST_BOOK_PAUSE":        &cfg.BookPause,
		"HARVEST_TIMEOUT":           &cfg.Timeout,
		"HARVEST_ENTRY_TIMEOUT":     &cfg.EntryTimeout,
		"HARVEST_FEED_TIMEOUT":      &cfg.FeedTimeout,
		"HARVEST_LOAD_MORE_TIMEOUT": &cfg.LoadMoreTimeout,
	}
	for key, target := range durations {
		value, ok, err := config.EnvDuration(key)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}
	return nil
}

func printSummary(result *models.RunResult, outputFile string) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime)
	fmt.Println("\n" + separator)
	fmt.Println("Harvest complete")
	fmt.Printf("  Books:            %d\n", result.BookCount)
	fmt.Printf("  Completed:        %d\n", result.CountOutcome(models.OutcomeComplete))
	fmt.Printf("  Already full:     %d\n", result.CountOutcome(models.OutcomeQuotaFull))
	fmt.Printf("  No match:         %d\n", result.CountOutcome(models.OutcomeNoMatch))
	fmt.Printf("  Feed unavailable: %d\n", result.CountOutcome(models.OutcomeFeedMissing))
	fmt.Printf("  Session faults:   %d\n", result.CountOutcome(models.OutcomeFault))
	fmt.Printf("  New reviews:      %d\n", result.AcceptedCount)
	fmt.Printf("  Stored reviews:   %d\n", result.StoredCount)
	fmt.Printf("  Session restarts: %d\n", result.SessionRestarts)
	if result.PersistErrors > 0 {
		fmt.Printf("  Persist errors:   %d\n", result.PersistErrors)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:      %v\n", result.ErrorsByType)
	}
	fmt.Printf("  Duration:         %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Output file:      %s\n", outputFile)
	fmt.Println(separator)
}
