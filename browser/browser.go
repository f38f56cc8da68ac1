// Package browser exposes the pages the scraper reads through a small
// selector-based locator API, backed either by a headless Chromium driven by
// go-rod or by plain HTTP fetches parsed with goquery.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Element is a node resolved on a page. Child lookups report a missing node
// through ok=false; err is reserved for engine failures such as a detached
// node or an expired context.
type Element interface {
	InnerHTML(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (text string, ok bool, err error)
	Attr(ctx context.Context, selector, name string) (value string, ok bool, err error)
}

// Page is one loaded document.
type Page interface {
	URL() string
	Elements(ctx context.Context, selector string) ([]Element, error)
	Text(ctx context.Context, selector string) (text string, ok bool, err error)
	Close() error
}

// Session owns the rendering engine. Pages opened from a session share its
// identity (user agent and extra headers). Open is safe for concurrent use.
type Session interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// Options configures a Session.
type Options struct {
	Engine        string // rod or static
	Headless      bool
	Bin           string
	Stealth       bool
	UserAgent     string
	Headers       map[string]string
	LaunchTimeout time.Duration
	PageTimeout   time.Duration
	IdleTimeout   time.Duration

	// Transport replaces the HTTP transport of the static engine.
	Transport http.RoundTripper
}

// Launch starts a session for opts.Engine.
func Launch(ctx context.Context, opts Options) (Session, error) {
	switch opts.Engine {
	case "", "rod":
		return launchRod(ctx, opts)
	case "static":
		return newStaticSession(opts)
	default:
		return nil, fmt.Errorf("unknown browser engine %q", opts.Engine)
	}
}

// StatusError reports an HTTP error status for a page load.
type StatusError struct {
	URL  string
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http status %d", e.URL, e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func headerPairs(headers map[string]string) []string {
	pairs := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		pairs = append(pairs, k, v)
	}
	return pairs
}
