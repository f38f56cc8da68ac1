// Package models defines data structures for the scraper.
package models

import "time"

// ScrapedMovie is one showing captured from the listing and its detail page.
type ScrapedMovie struct {
	ID            string    `csv:"id" json:"id"`
	ScrapedAt     time.Time `csv:"scraped_at" json:"scrapedAt"`
	RawOriginHTML string    `csv:"raw_origin_html" json:"rawOriginHtml"`
	Place         string    `csv:"place" json:"place"`
	ImageURL      string    `csv:"image_url" json:"imageUrl"`
	EventName     string    `csv:"event_name" json:"eventName"`
	When          string    `csv:"when" json:"when"`
	MoreInfoURL   string    `csv:"more_info_url" json:"moreInfoUrl"`
	StartTime     string    `csv:"start_time" json:"startTime"`
	EndTime       string    `csv:"end_time" json:"endTime"`
	Description   string    `csv:"description" json:"description"`
}

// MovieDetails is the enrichment record for a scraped showing. It is written
// by the enrichment step, never by the scraper.
type MovieDetails struct {
	ID             int64  `json:"id"`
	ScrapedMovieID string `json:"scrapedMovieId"`
	Title          string `json:"title"`
	Director       string `json:"director"`
	Year           int    `json:"year"`
	Group          string `json:"group"`
	When           string `json:"when"`
	Summary        string `json:"summary"`
	ImageURL       string `json:"imageUrl"`
	MoreInfoURL    string `json:"moreInfoUrl"`
}

// CardStatus tags the result of extracting a single listing card.
type CardStatus string

const (
	CardOK      CardStatus = "ok"
	CardSkipped CardStatus = "skipped"
	CardFailed  CardStatus = "failed"
)

// CardOutcome is the per-card result of a run. Index is the card's position
// on the listing page, independent of completion order.
type CardOutcome struct {
	Index   int
	Status  CardStatus
	Movie   *ScrapedMovie
	Reason  string
	Retries int
	Err     error
}

// ScrapeResult holds the overall result of a scraping run.
type ScrapeResult struct {
	Movies          []*ScrapedMovie
	Outcomes        []CardOutcome
	StartTime       time.Time
	EndTime         time.Time
	CardCount       int
	SkippedCount    int
	FailedCount     int
	RetryCount      int
	SkippedByReason map[string]int
	ErrorsByType    map[string]int
}
