package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// RodLauncher drives Chromium over CDP with go-rod.
type RodLauncher struct {
	opts Options
}

func NewRodLauncher(opts Options) *RodLauncher {
	return &RodLauncher{opts: opts}
}

func (l *RodLauncher) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ln := launcher.New().Headless(l.opts.Headless)
	if l.opts.ProxyURL != "" {
		ln = ln.Proxy(l.opts.ProxyURL)
	}

	controlURL, err := ln.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		b.Close()
		ln.Kill()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	if l.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: l.opts.UserAgent}); err != nil {
			page.Close()
			b.Close()
			ln.Kill()
			return nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	return &rodSession{launcher: ln, browser: b, page: page}, nil
}

type rodSession struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	closed   bool
}

// scoped binds the page to ctx with an operation timeout.
func (s *rodSession) scoped(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	return s.page.Context(opCtx), cancel
}

func (s *rodSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	if err := p.Navigate(url); err != nil {
		return wrapRod(ctx, err)
	}
	return wrapRod(ctx, p.WaitLoad())
}

func (s *rodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	_, err := p.Element(selector)
	return wrapRod(ctx, err)
}

func (s *rodSession) Count(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	els, err := p.Elements(selector)
	if err != nil {
		return 0, wrapRod(ctx, err)
	}
	return len(els), nil
}

func (s *rodSession) ClickIfPresent(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	has, el, err := p.Has(selector)
	if err != nil {
		return false, wrapRod(ctx, err)
	}
	if !has {
		return false, nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, wrapRod(ctx, err)
	}
	return true, nil
}

func (s *rodSession) ScrollPage(ctx context.Context, timeout time.Duration) error {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	_, err := p.Eval(scrollScript)
	return wrapRod(ctx, err)
}

func (s *rodSession) nth(p *rod.Page, selector string, index int) (*rod.Element, error) {
	els, err := p.Elements(selector)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(els) {
		return nil, fmt.Errorf("element %d of %q not found (have %d)", index, selector, len(els))
	}
	return els[index], nil
}

func (s *rodSession) ScrollIntoView(ctx context.Context, selector string, index int, timeout time.Duration) error {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	el, err := s.nth(p, selector, index)
	if err != nil {
		return wrapRod(ctx, err)
	}
	return wrapRod(ctx, el.ScrollIntoView())
}

func (s *rodSession) OuterHTML(ctx context.Context, selector string, index int, timeout time.Duration) (string, error) {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	el, err := s.nth(p, selector, index)
	if err != nil {
		return "", wrapRod(ctx, err)
	}
	html, err := el.HTML()
	return html, wrapRod(ctx, err)
}

func (s *rodSession) Content(ctx context.Context, timeout time.Duration) (string, error) {
	p, cancel := s.scoped(ctx, timeout)
	defer cancel()

	html, err := p.HTML()
	return html, wrapRod(ctx, err)
}

func (s *rodSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.page != nil {
		errs = append(errs, s.page.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	if s.launcher != nil {
		s.launcher.Kill()
	}
	return errors.Join(errs...)
}

// wrapRod maps an expired operation deadline to ErrTimeout while leaving
// caller cancellation untouched.
func wrapRod(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
