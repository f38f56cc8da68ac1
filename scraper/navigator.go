package scraper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/browser"
	"github.com/aluiziolira/go-scrape-cinemateca/config"
)

var errContainerMissing = errors.New("listing container not found, page structure changed")

// Navigator opens the listing page and enumerates its cards.
type Navigator struct {
	cfg     *config.Config
	metrics *Metrics
}

// NewNavigator builds a Navigator for cfg.
func NewNavigator(cfg *config.Config, metrics *Metrics) *Navigator {
	return &Navigator{cfg: cfg, metrics: metrics}
}

// Cards loads the listing and returns its card handles in page order. The
// returned page owns the handles and must stay open until they are no longer
// used; the caller closes it. On error no page is returned. A container with
// no cards is a valid, empty listing.
func (n *Navigator) Cards(ctx context.Context, session browser.Session) (browser.Page, []browser.Element, error) {
	url := n.cfg.ListingURL()
	sel := n.cfg.Selectors

	start := time.Now()
	page, err := session.Open(ctx, url)
	n.metrics.IncPageOpen("listing")
	if err != nil {
		return nil, nil, &NavigationError{URL: url, Err: err}
	}
	n.metrics.ObserveDuration(time.Since(start))

	containers, err := page.Elements(ctx, sel.Container)
	if err != nil {
		closePage(page)
		return nil, nil, &NavigationError{URL: url, Err: err}
	}
	if len(containers) == 0 {
		closePage(page)
		return nil, nil, &NavigationError{URL: url, Err: errContainerMissing}
	}

	cards, err := page.Elements(ctx, sel.Container+" > "+sel.Card)
	if err != nil {
		closePage(page)
		return nil, nil, &NavigationError{URL: url, Err: err}
	}

	slog.Info("listing loaded", slog.String("url", url), slog.Int("cards", len(cards)))
	return page, cards, nil
}

func closePage(page browser.Page) {
	if err := page.Close(); err != nil {
		slog.Debug("close page", slog.String("url", page.URL()), slog.Any("error", err))
	}
}
