package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	defaultLaunchTimeout = 20 * time.Second
	requestIdleWindow    = 500 * time.Millisecond
)

type rodSession struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	opts     Options
}

func launchRod(ctx context.Context, opts Options) (*rodSession, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	type launched struct {
		browser *rod.Browser
		err     error
	}
	resultCh := make(chan launched, 1)
	go func() {
		controlURL, err := l.Launch()
		if err != nil {
			resultCh <- launched{err: fmt.Errorf("launch chromium: %w", err)}
			return
		}
		b := rod.New().ControlURL(controlURL)
		if err := b.Connect(); err != nil {
			resultCh <- launched{err: fmt.Errorf("connect chromium: %w", err)}
			return
		}
		resultCh <- launched{browser: b}
	}()

	timeout := opts.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			l.Kill()
			return nil, res.err
		}
		slog.Debug("browser started", slog.Bool("headless", opts.Headless), slog.Bool("stealth", opts.Stealth))
		return &rodSession{launcher: l, browser: res.browser, opts: opts}, nil
	case <-timer.C:
		l.Kill()
		return nil, fmt.Errorf("browser startup exceeded %s: %w", timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		l.Kill()
		return nil, fmt.Errorf("browser startup: %w", ctx.Err())
	}
}

func (s *rodSession) Open(ctx context.Context, url string) (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if s.opts.Stealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := s.load(ctx, page, url); err != nil {
		_ = page.Close()
		return nil, err
	}
	return &rodPage{page: page, url: url}, nil
}

func (s *rodSession) load(ctx context.Context, page *rod.Page, url string) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.opts.UserAgent}); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	if len(s.opts.Headers) > 0 {
		if _, err := page.SetExtraHeaders(headerPairs(s.opts.Headers)); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	var (
		waitIdle   func()
		idleCtx    context.Context
		idleCancel context.CancelFunc
	)
	if s.opts.IdleTimeout > 0 {
		idleCtx, idleCancel = context.WithTimeout(ctx, s.opts.PageTimeout+s.opts.IdleTimeout)
		defer idleCancel()
		waitIdle = page.Context(idleCtx).WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	}

	loadCtx, loadCancel := context.WithTimeout(ctx, s.opts.PageTimeout)
	defer loadCancel()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("enable network events: %w", err)
	}
	status := newDocumentStatus()
	go page.Context(loadCtx).EachEvent(status.observe)()

	if err := page.Context(loadCtx).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.Context(loadCtx).WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	if err := status.err(url); err != nil {
		return err
	}

	if waitIdle == nil {
		return nil
	}
	waitIdle()
	if err := idleCtx.Err(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("wait network idle %s: %w", url, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("network did not settle on %s: %w", url, err)
		}
	}
	return nil
}

// documentStatus keeps the HTTP status of the first document response of a
// navigation. Chromium renders error pages like any other, so the status is
// the only signal that the load failed.
type documentStatus struct {
	codes chan int
}

func newDocumentStatus() *documentStatus {
	return &documentStatus{codes: make(chan int, 1)}
}

func (d *documentStatus) observe(e *proto.NetworkResponseReceived) bool {
	if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
		return false
	}
	select {
	case d.codes <- e.Response.Status:
	default:
	}
	return true
}

// err returns a *StatusError when the recorded status is 400 or above.
func (d *documentStatus) err(url string) error {
	select {
	case code := <-d.codes:
		if code >= 400 {
			return &StatusError{URL: url, Code: code}
		}
	default:
	}
	return nil
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	s.launcher.Kill()
	s.launcher.Cleanup()
	return err
}

type rodPage struct {
	page *rod.Page
	url  string
}

func (p *rodPage) URL() string {
	return p.url
}

func (p *rodPage) Elements(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out, nil
}

func (p *rodPage) Text(ctx context.Context, selector string) (string, bool, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return "", false, fmt.Errorf("query %q: %w", selector, err)
	}
	return firstText(ctx, els)
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) InnerHTML(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.innerHTML`)
	if err != nil {
		return "", fmt.Errorf("inner html: %w", err)
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Text(ctx context.Context, selector string) (string, bool, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return "", false, fmt.Errorf("query %q: %w", selector, err)
	}
	return firstText(ctx, els)
}

func (e *rodElement) Attr(ctx context.Context, selector, name string) (string, bool, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return "", false, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return "", false, nil
	}
	value, err := els[0].Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("attribute %s of %q: %w", name, selector, err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func firstText(ctx context.Context, els rod.Elements) (string, bool, error) {
	if len(els) == 0 {
		return "", false, nil
	}
	text, err := els[0].Context(ctx).Text()
	if err != nil {
		return "", false, fmt.Errorf("inner text: %w", err)
	}
	return text, true, nil
}
