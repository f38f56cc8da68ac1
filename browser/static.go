package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

// staticSession fetches pages without executing JavaScript. Every Open
// clones the base collector so callbacks never cross between pages, while
// the clones share one HTTP backend.
type staticSession struct {
	base    *colly.Collector
	headers map[string]string
}

func newStaticSession(opts Options) (*staticSession, error) {
	collector := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	if opts.PageTimeout > 0 {
		collector.SetRequestTimeout(opts.PageTimeout)
	}
	if opts.Transport != nil {
		collector.WithTransport(opts.Transport)
	} else {
		collector.WithTransport(&http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.PageTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		})
	}
	return &staticSession{base: collector, headers: opts.Headers}, nil
}

func (s *staticSession) Open(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := s.base.Clone()
	var (
		doc      *goquery.Document
		parseErr error
		status   int
	)
	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		for k, v := range s.headers {
			r.Headers.Set(k, v)
		}
	})
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		doc, parseErr = goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(url); err != nil {
		if status >= http.StatusBadRequest {
			return nil, &StatusError{URL: url, Code: status, Err: err}
		}
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, fmt.Errorf("parse %s: %w", url, parseErr)
	}
	if doc == nil {
		return nil, errors.New("fetch " + url + ": empty response")
	}
	return &staticPage{url: url, doc: doc}, nil
}

func (s *staticSession) Close() error {
	return nil
}

type staticPage struct {
	url string
	doc *goquery.Document
}

func (p *staticPage) URL() string {
	return p.url
}

func (p *staticPage) Elements(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := p.doc.Find(selector)
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &staticElement{sel: s})
	})
	return out, nil
}

func (p *staticPage) Text(ctx context.Context, selector string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	match := p.doc.Find(selector).First()
	if match.Length() == 0 {
		return "", false, nil
	}
	return innerText(match), true, nil
}

func (p *staticPage) Close() error {
	return nil
}

type staticElement struct {
	sel *goquery.Selection
}

func (e *staticElement) InnerHTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.sel.Html()
}

func (e *staticElement) Text(ctx context.Context, selector string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	match := e.sel.Find(selector).First()
	if match.Length() == 0 {
		return "", false, nil
	}
	return innerText(match), true, nil
}

func (e *staticElement) Attr(ctx context.Context, selector, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	match := e.sel.Find(selector).First()
	if match.Length() == 0 {
		return "", false, nil
	}
	value, ok := match.Attr(name)
	return value, ok, nil
}

// innerText approximates the rendered text of a node: block-level children
// contribute line breaks the way a browser's innerText does.
func innerText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			b.WriteString(child.Text())
			return
		}
		switch goquery.NodeName(child) {
		case "br":
			b.WriteString("\n")
		case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "ul", "section":
			b.WriteString("\n")
			b.WriteString(innerText(child))
			b.WriteString("\n")
		default:
			b.WriteString(innerText(child))
		}
	})
	return b.String()
}
