package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/browser"
	"github.com/aluiziolira/go-scrape-cinemateca/config"
	"github.com/aluiziolira/go-scrape-cinemateca/models"
	"github.com/aluiziolira/go-scrape-cinemateca/parser"
)

// Extraction is the result of one successful attempt: either a complete
// movie or the reason the card was rejected.
type Extraction struct {
	Movie  *models.ScrapedMovie
	Reason RejectReason
}

// Rejected reports whether the card was skipped.
func (e Extraction) Rejected() bool {
	return e.Movie == nil
}

func reject(reason RejectReason) (Extraction, error) {
	return Extraction{Reason: reason}, nil
}

// Extractor turns one listing card, plus its detail page, into a movie.
type Extractor struct {
	cfg     *config.Config
	metrics *Metrics
	now     func() time.Time
}

// NewExtractor builds an Extractor for cfg.
func NewExtractor(cfg *config.Config, metrics *Metrics) *Extractor {
	return &Extractor{cfg: cfg, metrics: metrics, now: time.Now}
}

// Extract reads card. Missing required fields produce a rejection; an error
// means the attempt itself failed and may be retried.
func (x *Extractor) Extract(ctx context.Context, session browser.Session, card browser.Element) (Extraction, error) {
	sel := x.cfg.Selectors

	raw, err := card.InnerHTML(ctx)
	if err != nil {
		return Extraction{}, fmt.Errorf("card html: %w", err)
	}

	place, ok, err := card.Text(ctx, sel.Place)
	if err != nil {
		return Extraction{}, fmt.Errorf("place: %w", err)
	}
	place = parser.NormalizePlace(place)
	if !ok || place == "" {
		return reject(ReasonPlaceMissing)
	}
	if place != parser.NormalizePlace(x.cfg.Venue) {
		return reject(ReasonWrongPlace)
	}

	image, ok, err := card.Attr(ctx, sel.Image, "src")
	if err != nil {
		return Extraction{}, fmt.Errorf("image: %w", err)
	}
	image = strings.TrimSpace(image)
	if !ok || image == "" {
		image = x.cfg.FallbackImageURL
	}

	title, _, err := card.Text(ctx, sel.Title)
	if err != nil {
		return Extraction{}, fmt.Errorf("title: %w", err)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = x.cfg.UntitledLabel
	}

	when, _, err := card.Text(ctx, sel.When)
	if err != nil {
		return Extraction{}, fmt.Errorf("when: %w", err)
	}
	when = strings.TrimSpace(when)
	if when == "" {
		return reject(ReasonWhenMissing)
	}

	href, ok, err := card.Attr(ctx, sel.Link, "href")
	if err != nil {
		return Extraction{}, fmt.Errorf("link: %w", err)
	}
	if !ok || strings.TrimSpace(href) == "" {
		return reject(ReasonLinkMissing)
	}
	moreInfoURL, err := parser.ResolveURL(x.cfg.BaseURL, href)
	if err != nil {
		return reject(ReasonLinkMissing)
	}

	start := time.Now()
	detail, err := session.Open(ctx, moreInfoURL)
	x.metrics.IncPageOpen("detail")
	if err != nil {
		return Extraction{}, fmt.Errorf("open detail page: %w", err)
	}
	x.metrics.ObserveDuration(time.Since(start))
	defer closePage(detail)

	startTime, _, err := detail.Text(ctx, sel.StartTime)
	if err != nil {
		return Extraction{}, fmt.Errorf("start time: %w", err)
	}
	startTime = strings.TrimSpace(startTime)
	if startTime == "" {
		return reject(ReasonStartTimeMissing)
	}

	endTime, _, err := detail.Text(ctx, sel.EndTime)
	if err != nil {
		return Extraction{}, fmt.Errorf("end time: %w", err)
	}
	endTime = strings.TrimSpace(endTime)
	if endTime == "" {
		return reject(ReasonEndTimeMissing)
	}

	description, _, err := detail.Text(ctx, sel.Description)
	if err != nil {
		return Extraction{}, fmt.Errorf("description: %w", err)
	}
	description = parser.NormalizeDescription(description, x.cfg.DescriptionLabel)
	if description == "" {
		return reject(ReasonDescriptionMissing)
	}

	return Extraction{Movie: &models.ScrapedMovie{
		ID:            parser.DeriveID(x.cfg.BaseURL, moreInfoURL),
		ScrapedAt:     x.now().UTC(),
		RawOriginHTML: parser.SanitizeHTML(raw),
		Place:         place,
		ImageURL:      image,
		EventName:     title,
		When:          when,
		MoreInfoURL:   moreInfoURL,
		StartTime:     startTime,
		EndTime:       endTime,
		Description:   description,
	}}, nil
}
