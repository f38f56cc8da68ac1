package scraper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-cinemateca/browser"
	"github.com/aluiziolira/go-scrape-cinemateca/models"
)

// fanOut extracts every card concurrently, at most cfg.Concurrency at a time
// (zero means no limit). Outcomes are indexed like cards, whatever order the
// goroutines finish in.
func (s *Scraper) fanOut(ctx context.Context, session browser.Session, cards []browser.Element) []models.CardOutcome {
	outcomes := make([]models.CardOutcome, len(cards))

	var sem chan struct{}
	if s.cfg.Concurrency > 0 {
		sem = make(chan struct{}, s.cfg.Concurrency)
	}

	var wg sync.WaitGroup
	for i, card := range cards {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					outcomes[i] = s.failedOutcome(i, 0, &ExtractionExhausted{Index: i, Err: ctx.Err()})
					return
				}
			}
			outcomes[i] = s.processCard(ctx, session, i, card)
		}()
	}
	wg.Wait()
	return outcomes
}

func (s *Scraper) processCard(ctx context.Context, session browser.Session, index int, card browser.Element) models.CardOutcome {
	ext, retries, err := s.retry.Do(ctx, index, func(ctx context.Context) (Extraction, error) {
		return s.extractor.Extract(ctx, session, card)
	})
	if err != nil {
		return s.failedOutcome(index, retries, err)
	}

	if ext.Rejected() {
		s.Metrics.IncCard(string(models.CardSkipped))
		s.Metrics.IncRejection(ext.Reason)
		slog.Debug("card skipped", slog.Int("index", index), slog.String("reason", string(ext.Reason)))
		return models.CardOutcome{
			Index:   index,
			Status:  models.CardSkipped,
			Reason:  string(ext.Reason),
			Retries: retries,
		}
	}

	s.Metrics.IncCard(string(models.CardOK))
	slog.Debug("card extracted", slog.Int("index", index), slog.String("id", ext.Movie.ID))
	return models.CardOutcome{
		Index:   index,
		Status:  models.CardOK,
		Movie:   ext.Movie,
		Retries: retries,
	}
}

func (s *Scraper) failedOutcome(index, retries int, err error) models.CardOutcome {
	category := errorTypeLabel(classifyError(err))
	s.Metrics.IncCard(string(models.CardFailed))
	s.Metrics.IncError(category)
	slog.Error("card failed",
		slog.Int("index", index),
		slog.String("category", category),
		slog.Any("error", err),
	)
	return models.CardOutcome{
		Index:   index,
		Status:  models.CardFailed,
		Retries: retries,
		Err:     err,
	}
}
