package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-cinemateca/browser"
	"github.com/aluiziolira/go-scrape-cinemateca/config"
	"github.com/aluiziolira/go-scrape-cinemateca/models"
)

const testBase = "https://guia.curitiba.pr.gov.br"

type fakeElement struct {
	html  string
	texts map[string]string
	attrs map[string]string
	err   error
}

func (e *fakeElement) InnerHTML(context.Context) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.html, nil
}

func (e *fakeElement) Text(_ context.Context, selector string) (string, bool, error) {
	if e.err != nil {
		return "", false, e.err
	}
	v, ok := e.texts[selector]
	return v, ok, nil
}

func (e *fakeElement) Attr(_ context.Context, selector, name string) (string, bool, error) {
	if e.err != nil {
		return "", false, e.err
	}
	v, ok := e.attrs[selector+"|"+name]
	return v, ok, nil
}

type fakePageDef struct {
	texts    map[string]string
	elements map[string][]browser.Element
	textErr  error
}

type fakeSession struct {
	mu      sync.Mutex
	pages   map[string]*fakePageDef
	openErr error
	delay   time.Duration

	opens         atomic.Int32
	closes        atomic.Int32
	inflight      atomic.Int32
	peak          atomic.Int32
	sessionCloses atomic.Int32
	closed        []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{pages: make(map[string]*fakePageDef)}
}

func (s *fakeSession) add(url string, def *fakePageDef) {
	s.mu.Lock()
	s.pages[url] = def
	s.mu.Unlock()
}

func (s *fakeSession) Open(ctx context.Context, url string) (browser.Page, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.mu.Lock()
	def, ok := s.pages[url]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no fake page for %s", url)
	}

	s.opens.Add(1)
	current := s.inflight.Add(1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return &fakePage{session: s, url: url, def: def}, nil
}

func (s *fakeSession) Close() error {
	s.sessionCloses.Add(1)
	return nil
}

func (s *fakeSession) closedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

type fakePage struct {
	session *fakeSession
	url     string
	def     *fakePageDef
	once    sync.Once
}

func (p *fakePage) URL() string {
	return p.url
}

func (p *fakePage) Elements(_ context.Context, selector string) ([]browser.Element, error) {
	return p.def.elements[selector], nil
}

func (p *fakePage) Text(_ context.Context, selector string) (string, bool, error) {
	if p.def.textErr != nil {
		return "", false, p.def.textErr
	}
	v, ok := p.def.texts[selector]
	return v, ok, nil
}

func (p *fakePage) Close() error {
	p.once.Do(func() {
		p.session.closes.Add(1)
		p.session.inflight.Add(-1)
		p.session.mu.Lock()
		p.session.closed = append(p.session.closed, p.url)
		p.session.mu.Unlock()
	})
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine = "static"
	cfg.RetryBackoff = 0
	cfg.RetryBackoffMax = 0
	return cfg
}

func fakeCard(place, href string) *fakeElement {
	sel := config.DefaultSelectors()
	texts := map[string]string{
		sel.Title: "  Stalker  ",
		sel.When:  " 12/03/2026 ",
	}
	if place != "" {
		texts[sel.Place] = place
	}
	attrs := map[string]string{
		sel.Image + "|src": "https://example.test/stalker.jpg",
	}
	if href != "" {
		attrs[sel.Link+"|href"] = href
	}
	return &fakeElement{html: "<div>\n\t<h5>Stalker</h5>\n</div>", texts: texts, attrs: attrs}
}

func fakeDetail() *fakePageDef {
	sel := config.DefaultSelectors()
	return &fakePageDef{texts: map[string]string{
		sel.StartTime:   "19h",
		sel.EndTime:     "21h40",
		sel.Description: "Descrição:\n\nUma expedição à Zona.",
	}}
}

func TestExtractorBuildsMovie(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.add(testBase+"/Evento/Ver/123", fakeDetail())

	fixed := time.Date(2026, 3, 1, 15, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	x := NewExtractor(cfg, nil)
	x.now = func() time.Time { return fixed }

	ext, err := x.Extract(context.Background(), session, fakeCard("  Cinemateca de Curitiba ", "/Evento/Ver/123"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Rejected() {
		t.Fatalf("unexpected rejection %q", ext.Reason)
	}

	m := ext.Movie
	want := models.ScrapedMovie{
		ID:            "Evento-Ver-123",
		ScrapedAt:     fixed.UTC(),
		RawOriginHTML: "<div><h5>Stalker</h5></div>",
		Place:         "cinemateca de curitiba",
		ImageURL:      "https://example.test/stalker.jpg",
		EventName:     "Stalker",
		When:          "12/03/2026",
		MoreInfoURL:   testBase + "/Evento/Ver/123",
		StartTime:     "19h",
		EndTime:       "21h40",
		Description:   "Uma expedição à Zona.",
	}
	if *m != want {
		t.Fatalf("movie = %+v\nwant    %+v", *m, want)
	}
	if session.opens.Load() != 1 || session.closes.Load() != 1 {
		t.Fatalf("opens=%d closes=%d, want 1/1", session.opens.Load(), session.closes.Load())
	}
}

func TestExtractorDefaults(t *testing.T) {
	cfg := testConfig()
	sel := cfg.Selectors
	session := newFakeSession()
	session.add(testBase+"/Evento/Ver/9", fakeDetail())

	card := fakeCard("Cinemateca de Curitiba", "/Evento/Ver/9")
	delete(card.texts, sel.Title)
	delete(card.attrs, sel.Image+"|src")

	ext, err := NewExtractor(cfg, nil).Extract(context.Background(), session, card)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ext.Movie == nil {
		t.Fatalf("unexpected rejection %q", ext.Reason)
	}
	if ext.Movie.EventName != cfg.UntitledLabel {
		t.Fatalf("event name = %q, want %q", ext.Movie.EventName, cfg.UntitledLabel)
	}
	if ext.Movie.ImageURL != cfg.FallbackImageURL {
		t.Fatalf("image = %q, want fallback", ext.Movie.ImageURL)
	}
}

func TestExtractorRejections(t *testing.T) {
	sel := config.DefaultSelectors()
	tests := []struct {
		name       string
		card       func() *fakeElement
		detail     func() *fakePageDef
		want       RejectReason
		wantOpened bool
	}{
		{
			name: "place missing",
			card: func() *fakeElement { return fakeCard("", "/Evento/Ver/1") },
			want: ReasonPlaceMissing,
		},
		{
			name: "other venue",
			card: func() *fakeElement { return fakeCard("Teatro Guaíra", "/Evento/Ver/1") },
			want: ReasonWrongPlace,
		},
		{
			name: "when missing",
			card: func() *fakeElement {
				c := fakeCard("Cinemateca de Curitiba", "/Evento/Ver/1")
				c.texts[sel.When] = "   "
				return c
			},
			want: ReasonWhenMissing,
		},
		{
			name: "link missing",
			card: func() *fakeElement { return fakeCard("Cinemateca de Curitiba", "") },
			want: ReasonLinkMissing,
		},
		{
			name: "start time missing",
			card: func() *fakeElement { return fakeCard("Cinemateca de Curitiba", "/Evento/Ver/1") },
			detail: func() *fakePageDef {
				d := fakeDetail()
				delete(d.texts, sel.StartTime)
				return d
			},
			want:       ReasonStartTimeMissing,
			wantOpened: true,
		},
		{
			name: "end time missing",
			card: func() *fakeElement { return fakeCard("Cinemateca de Curitiba", "/Evento/Ver/1") },
			detail: func() *fakePageDef {
				d := fakeDetail()
				d.texts[sel.EndTime] = ""
				return d
			},
			want:       ReasonEndTimeMissing,
			wantOpened: true,
		},
		{
			name: "description only label",
			card: func() *fakeElement { return fakeCard("Cinemateca de Curitiba", "/Evento/Ver/1") },
			detail: func() *fakePageDef {
				d := fakeDetail()
				d.texts[sel.Description] = "  Descrição:  "
				return d
			},
			want:       ReasonDescriptionMissing,
			wantOpened: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newFakeSession()
			detail := fakeDetail()
			if tt.detail != nil {
				detail = tt.detail()
			}
			session.add(testBase+"/Evento/Ver/1", detail)

			ext, err := NewExtractor(testConfig(), nil).Extract(context.Background(), session, tt.card())
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if !ext.Rejected() || ext.Reason != tt.want {
				t.Fatalf("reason = %q (movie %v), want %q", ext.Reason, ext.Movie, tt.want)
			}
			if opened := session.opens.Load() > 0; opened != tt.wantOpened {
				t.Fatalf("detail opened = %v, want %v", opened, tt.wantOpened)
			}
			if session.opens.Load() != session.closes.Load() {
				t.Fatalf("opens=%d closes=%d", session.opens.Load(), session.closes.Load())
			}
		})
	}
}

func TestExtractorClosesDetailPageOnError(t *testing.T) {
	session := newFakeSession()
	detail := fakeDetail()
	detail.textErr = errors.New("node detached")
	session.add(testBase+"/Evento/Ver/1", detail)

	_, err := NewExtractor(testConfig(), nil).Extract(context.Background(), session, fakeCard("Cinemateca de Curitiba", "/Evento/Ver/1"))
	if err == nil {
		t.Fatalf("expected error from detail page")
	}
	if session.opens.Load() != 1 || session.closes.Load() != 1 {
		t.Fatalf("opens=%d closes=%d, want 1/1", session.opens.Load(), session.closes.Load())
	}
}

func TestRetrierRetriesUntilSuccess(t *testing.T) {
	r := newRetrier(testConfig(), NewMetrics())

	calls := 0
	ext, retries, err := r.Do(context.Background(), 4, func(context.Context) (Extraction, error) {
		calls++
		if calls <= 2 {
			return Extraction{}, errors.New("timeout waiting for selector")
		}
		return Extraction{Movie: &models.ScrapedMovie{ID: "Evento-Ver-4"}}, nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if retries != 2 || calls != 3 {
		t.Fatalf("retries=%d calls=%d, want 2/3", retries, calls)
	}
	if ext.Movie == nil || ext.Movie.ID != "Evento-Ver-4" {
		t.Fatalf("unexpected extraction %+v", ext)
	}
}

func TestRetrierExhausted(t *testing.T) {
	r := newRetrier(testConfig(), NewMetrics())
	cause := errors.New("navigation failed")

	calls := 0
	_, retries, err := r.Do(context.Background(), 7, func(context.Context) (Extraction, error) {
		calls++
		return Extraction{}, cause
	})

	var exhausted *ExtractionExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExtractionExhausted, got %v", err)
	}
	if exhausted.Index != 7 || exhausted.Attempts != 3 {
		t.Fatalf("index=%d attempts=%d, want 7/3", exhausted.Index, exhausted.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped")
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("calls=%d retries=%d, want 3/2", calls, retries)
	}
}

func TestRetrierDoesNotRetryRejections(t *testing.T) {
	r := newRetrier(testConfig(), nil)
	calls := 0
	ext, retries, err := r.Do(context.Background(), 0, func(context.Context) (Extraction, error) {
		calls++
		return reject(ReasonWrongPlace)
	})
	if err != nil || calls != 1 || retries != 0 || ext.Reason != ReasonWrongPlace {
		t.Fatalf("calls=%d retries=%d err=%v reason=%q", calls, retries, err, ext.Reason)
	}
}

func TestRetrierStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = time.Hour
	cfg.RetryBackoffMax = time.Hour
	r := newRetrier(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := r.Do(ctx, 1, func(context.Context) (Extraction, error) {
		calls++
		cancel()
		return Extraction{}, errors.New("boom")
	})
	var exhausted *ExtractionExhausted
	if !errors.As(err, &exhausted) || calls != 1 || exhausted.Attempts != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRetrierBackoffCapped(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 200 * time.Millisecond
	cfg.RetryBackoffMax = 500 * time.Millisecond
	r := newRetrier(cfg, nil)

	if got := r.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("backoff(1) = %v, want 200ms", got)
	}
	if got := r.backoff(2); got != 400*time.Millisecond {
		t.Fatalf("backoff(2) = %v, want 400ms", got)
	}
	if got := r.backoff(4); got != cfg.RetryBackoffMax {
		t.Fatalf("backoff(4) = %v, want cap %v", got, cfg.RetryBackoffMax)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection"},
		{name: "forbidden", err: &browser.StatusError{Code: http.StatusForbidden}, expected: "forbidden"},
		{name: "not found", err: &browser.StatusError{Code: http.StatusNotFound}, expected: "not_found"},
		{name: "rate limited", err: fmt.Errorf("open: %w", &browser.StatusError{Code: http.StatusTooManyRequests}), expected: "rate_limited"},
		{name: "navigation", err: &NavigationError{URL: testBase, Err: errContainerMissing}, expected: "navigation"},
		{name: "exhausted not found", err: &ExtractionExhausted{Err: &browser.StatusError{Code: http.StatusNotFound}}, expected: "not_found"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err)); got != tt.expected {
				t.Fatalf("classifyError(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestNavigatorMissingContainer(t *testing.T) {
	cfg := testConfig()
	session := newFakeSession()
	session.add(cfg.ListingURL(), &fakePageDef{})

	page, cards, err := NewNavigator(cfg, nil).Cards(context.Background(), session)
	var navErr *NavigationError
	if !errors.As(err, &navErr) || !errors.Is(err, errContainerMissing) {
		t.Fatalf("expected NavigationError for missing container, got %v", err)
	}
	if page != nil || cards != nil {
		t.Fatalf("no page or cards expected on error")
	}
	if session.closes.Load() != 1 {
		t.Fatalf("listing page should be closed, closes=%d", session.closes.Load())
	}
}

func TestNavigatorOpenFailure(t *testing.T) {
	session := newFakeSession()
	session.openErr = context.DeadlineExceeded

	_, _, err := NewNavigator(testConfig(), nil).Cards(context.Background(), session)
	var navErr *NavigationError
	if !errors.As(err, &navErr) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected NavigationError wrapping timeout, got %v", err)
	}
	if got := errorTypeLabel(classifyError(err)); got != "timeout" {
		t.Fatalf("label = %q, want timeout", got)
	}
}

func TestNavigatorEmptyContainer(t *testing.T) {
	cfg := testConfig()
	sel := cfg.Selectors
	session := newFakeSession()
	session.add(cfg.ListingURL(), &fakePageDef{elements: map[string][]browser.Element{
		sel.Container: {&fakeElement{}},
	}})

	page, cards, err := NewNavigator(cfg, nil).Cards(context.Background(), session)
	if err != nil {
		t.Fatalf("cards: %v", err)
	}
	defer page.Close()
	if len(cards) != 0 {
		t.Fatalf("cards = %d, want 0", len(cards))
	}
}

func TestFanOutBoundedAndOrdered(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 2
	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}

	session := newFakeSession()
	session.delay = 5 * time.Millisecond
	cards := make([]browser.Element, 8)
	for i := range cards {
		href := fmt.Sprintf("/Evento/Ver/%d", i)
		session.add(testBase+href, fakeDetail())
		cards[i] = fakeCard("Cinemateca de Curitiba", href)
	}
	cards[3] = fakeCard("Teatro Guaíra", "/Evento/Ver/3")

	outcomes := s.fanOut(context.Background(), session, cards)
	if len(outcomes) != len(cards) {
		t.Fatalf("outcomes = %d, want %d", len(outcomes), len(cards))
	}
	for i, o := range outcomes {
		if o.Index != i {
			t.Fatalf("outcome %d has index %d", i, o.Index)
		}
		if i == 3 {
			if o.Status != models.CardSkipped || o.Reason != string(ReasonWrongPlace) {
				t.Fatalf("card 3 = %+v, want skipped wrong_place", o)
			}
			continue
		}
		if o.Status != models.CardOK || o.Movie.ID != fmt.Sprintf("Evento-Ver-%d", i) {
			t.Fatalf("card %d = %+v", i, o)
		}
	}
	if peak := session.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrent detail pages = %d, want <= 2", peak)
	}
	if session.opens.Load() != session.closes.Load() {
		t.Fatalf("opens=%d closes=%d", session.opens.Load(), session.closes.Load())
	}
}

func TestSummarize(t *testing.T) {
	outcomes := []models.CardOutcome{
		{Index: 0, Status: models.CardOK, Movie: &models.ScrapedMovie{ID: "a"}, Retries: 1},
		{Index: 1, Status: models.CardSkipped, Reason: string(ReasonWrongPlace)},
		{Index: 2, Status: models.CardFailed, Retries: 2, Err: &ExtractionExhausted{Index: 2, Attempts: 3, Err: &browser.StatusError{Code: http.StatusNotFound}}},
		{Index: 3, Status: models.CardSkipped, Reason: string(ReasonWrongPlace)},
	}

	result := summarize(outcomes)
	if result.CardCount != 4 || len(result.Movies) != 1 || result.SkippedCount != 2 || result.FailedCount != 1 || result.RetryCount != 3 {
		t.Fatalf("unexpected summary %+v", result)
	}
	if result.SkippedByReason["wrong_place"] != 2 || result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("reasons=%v errors=%v", result.SkippedByReason, result.ErrorsByType)
	}

	failures := exhausted(outcomes)
	if len(failures) != 1 || failures[0].Index != 2 {
		t.Fatalf("failures = %v", failures)
	}
}
