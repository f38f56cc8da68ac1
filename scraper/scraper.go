// Package scraper drives a browser session over the events listing and turns
// its cards into scraped showings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/browser"
	"github.com/aluiziolira/go-scrape-cinemateca/config"
	"github.com/aluiziolira/go-scrape-cinemateca/models"
	"github.com/aluiziolira/go-scrape-cinemateca/pipeline"
)

// ErrNilPipeline is returned by Run when no pipeline is given.
var ErrNilPipeline = errors.New("scraper: nil pipeline")

// Scraper runs one listing scrape per call to Run.
type Scraper struct {
	cfg       *config.Config
	navigator *Navigator
	extractor *Extractor
	retry     *retrier
	Metrics   *Metrics

	browserOpts browser.Options
	launch      func(context.Context, browser.Options) (browser.Session, error)
	now         func() time.Time
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	metrics := NewMetrics()
	s := &Scraper{
		cfg:       cfg,
		navigator: NewNavigator(cfg, metrics),
		extractor: NewExtractor(cfg, metrics),
		retry:     newRetrier(cfg, metrics),
		Metrics:   metrics,
		browserOpts: browser.Options{
			Engine:        cfg.Engine,
			Headless:      cfg.Headless,
			Bin:           cfg.BrowserBin,
			Stealth:       cfg.Stealth,
			UserAgent:     cfg.UserAgent,
			Headers:       cfg.ExtraHeaders,
			LaunchTimeout: cfg.LaunchTimeout,
			PageTimeout:   cfg.Timeout,
			IdleTimeout:   cfg.IdleTimeout,
		},
		launch: browser.Launch,
		now:    time.Now,
	}
	return s, nil
}

// Run launches a session, extracts every card of the listing and hands the
// resulting movies to p. The session is closed on every exit path.
//
// Unless cfg.AllowPartial is set, a card that exhausts its retries fails the
// whole run with a *BatchError and nothing reaches p. The returned result is
// populated whenever the listing was read, including on batch failure.
// p is required.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScrapeResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if p == nil {
		return nil, ErrNilPipeline
	}
	start := s.now()
	s.extractor.now = s.now

	session, err := s.launch(ctx, s.browserOpts)
	if err != nil {
		s.Metrics.IncError(errorTypeLabel(classifyError(err)))
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("close browser session", slog.Any("error", err))
		}
	}()

	listing, cards, err := s.navigator.Cards(ctx, session)
	if err != nil {
		category := errorTypeLabel(classifyError(err))
		s.Metrics.IncError(category)
		slog.Error("listing navigation failed", slog.String("category", category), slog.Any("error", err))
		return nil, err
	}
	defer closePage(listing)

	outcomes := s.fanOut(ctx, session, cards)
	result := summarize(outcomes)
	result.StartTime = start
	result.EndTime = s.now()

	slog.Info("cards processed",
		slog.Int("cards", result.CardCount),
		slog.Int("ok", len(result.Movies)),
		slog.Int("skipped", result.SkippedCount),
		slog.Int("failed", result.FailedCount),
		slog.Int("retries", result.RetryCount),
	)

	if failures := exhausted(outcomes); len(failures) > 0 && !s.cfg.AllowPartial {
		return result, &BatchError{Failures: failures}
	}

	if err := p.Process(result.Movies...); err != nil {
		if errors.Is(err, pipeline.ErrPipelineClosed) {
			return result, fmt.Errorf("pipeline closed before hand-off: %w", err)
		}
		return result, fmt.Errorf("hand off to pipeline: %w", err)
	}
	return result, nil
}

func summarize(outcomes []models.CardOutcome) *models.ScrapeResult {
	result := &models.ScrapeResult{
		Outcomes:        outcomes,
		CardCount:       len(outcomes),
		SkippedByReason: make(map[string]int),
		ErrorsByType:    make(map[string]int),
	}
	for _, o := range outcomes {
		result.RetryCount += o.Retries
		switch o.Status {
		case models.CardOK:
			result.Movies = append(result.Movies, o.Movie)
		case models.CardSkipped:
			result.SkippedCount++
			result.SkippedByReason[o.Reason]++
		case models.CardFailed:
			result.FailedCount++
			result.ErrorsByType[errorTypeLabel(classifyError(o.Err))]++
		}
	}
	return result
}

func exhausted(outcomes []models.CardOutcome) []*ExtractionExhausted {
	var out []*ExtractionExhausted
	for _, o := range outcomes {
		if o.Status != models.CardFailed {
			continue
		}
		var ex *ExtractionExhausted
		if errors.As(o.Err, &ex) {
			out = append(out, ex)
			continue
		}
		out = append(out, &ExtractionExhausted{Index: o.Index, Err: o.Err})
	}
	return out
}
