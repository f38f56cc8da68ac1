package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/config"
	"github.com/aluiziolira/go-scrape-cinemateca/models"
	"github.com/aluiziolira/go-scrape-cinemateca/pipeline"
	"github.com/aluiziolira/go-scrape-cinemateca/scraper"
	"github.com/aluiziolira/go-scrape-cinemateca/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// A single SQLite connection serializes writes anyway.
const pipelineWorkers = 1

type scrapeOptions struct {
	parallel     int
	maxAttempts  int
	engine       string
	allowPartial bool
	export       string
	format       string
	metricsAddr  string
	db           string
	interval     time.Duration
	headful      bool
}

var scrapeOpts scrapeOptions

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrapes the listing once (or every --interval) and upserts the showings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyScrapeFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return runScrape(cmd.Context(), cfg)
	},
}

func init() {
	flags := scrapeCmd.Flags()
	flags.IntVar(&scrapeOpts.parallel, "parallel", 0, "Maximum cards extracted concurrently (0 = unbounded)")
	flags.IntVar(&scrapeOpts.maxAttempts, "max-attempts", 0, "Attempts per card before giving up")
	flags.StringVar(&scrapeOpts.engine, "engine", "", "Browser engine: rod or static")
	flags.BoolVar(&scrapeOpts.allowPartial, "allow-partial", false, "Persist successful cards even when others exhaust their retries")
	flags.StringVar(&scrapeOpts.export, "export", "", "Also export each run to this file")
	flags.StringVar(&scrapeOpts.format, "format", "json", "Export format: csv, json, or dual")
	flags.StringVar(&scrapeOpts.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	flags.StringVar(&scrapeOpts.db, "db", "", "SQLite database file")
	flags.DurationVar(&scrapeOpts.interval, "interval", 0, "Repeat the scrape on this interval until interrupted")
	flags.BoolVar(&scrapeOpts.headful, "headful", false, "Show the browser window (rod engine)")
	rootCmd.AddCommand(scrapeCmd)
}

func applyScrapeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("parallel") {
		cfg.Concurrency = scrapeOpts.parallel
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = scrapeOpts.maxAttempts
	}
	if flags.Changed("engine") {
		cfg.Engine = strings.ToLower(scrapeOpts.engine)
	}
	if flags.Changed("allow-partial") {
		cfg.AllowPartial = scrapeOpts.allowPartial
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = scrapeOpts.metricsAddr
	}
	if flags.Changed("db") {
		cfg.DBFile = scrapeOpts.db
	}
	if flags.Changed("interval") {
		cfg.Interval = scrapeOpts.interval
	}
	if flags.Changed("headful") {
		cfg.Headless = !scrapeOpts.headful
	}
	if scrapeOpts.export != "" {
		cfg.ExportFile = scrapeOpts.export
		cfg.ExportFormat = strings.ToLower(scrapeOpts.format)
	}
}

func runScrape(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting scrape",
		slog.String("listing", cfg.ListingURL()),
		slog.String("engine", cfg.Engine),
		slog.Int("concurrency", cfg.Concurrency),
		slog.String("db", cfg.DBFile),
	)

	st, err := store.Open(ctx, cfg.DBFile)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	if cfg.Interval <= 0 {
		return scrapeOnce(ctx, cfg, s, st)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		if err := scrapeOnce(ctx, cfg, s, st); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("scheduled scrape failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func scrapeOnce(ctx context.Context, cfg *config.Config, s *scraper.Scraper, st *store.Store) error {
	storeWriter := pipeline.NewStoreWriter(st)
	var writer pipeline.OutputWriter = storeWriter
	if cfg.ExportFormat != "" {
		export, err := pipeline.NewExportWriter(cfg.ExportFormat, cfg.ExportFile)
		if err != nil {
			return fmt.Errorf("creating export writer: %w", err)
		}
		writer = pipeline.NewMultiWriter(writer, export)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(pipelineWorkers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	result, runErr := s.Run(ctx, p)
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if result != nil {
		printSummary(result, time.Since(startTime), storeWriter.Written(), p.GetMetrics(), cfg)
	}
	if runErr != nil {
		return fmt.Errorf("scraping failed: %w", runErr)
	}

	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation failed: %w", err)
	}
	return nil
}

// printSummary renders the outcome of one run. stored counts the rows the
// store writer actually upserted.
func printSummary(result *models.ScrapeResult, duration time.Duration, stored int64, metrics map[string]interface{}, cfg *config.Config) {
	t := newTable()
	t.SetTitle("Scrape complete")
	t.AppendRows(summaryRows(result, stored, metrics))
	t.AppendSeparator()
	t.AppendRow(table.Row{"Duration", duration.Round(time.Millisecond)})
	t.AppendRow(table.Row{"Database", cfg.DBFile})
	if cfg.ExportFile != "" {
		t.AppendRow(table.Row{"Export", cfg.ExportFile})
	}
	t.Render()
}

func summaryRows(result *models.ScrapeResult, stored int64, metrics map[string]interface{}) []table.Row {
	rows := []table.Row{
		{"Cards", result.CardCount},
		{"Stored", stored},
		{"Skipped", result.SkippedCount},
		{"Failed", result.FailedCount},
		{"Retries", result.RetryCount},
	}
	if len(result.SkippedByReason) > 0 {
		rows = append(rows, table.Row{"Skip reasons", formatCounts(result.SkippedByReason)})
	}
	if len(result.ErrorsByType) > 0 {
		rows = append(rows, table.Row{"Error types", formatCounts(result.ErrorsByType)})
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		rows = append(rows, table.Row{"Validation", formatCounts(valErrors)})
	}
	return rows
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
