package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

type PlaywrightLauncher struct {
	opts Options
}

func NewPlaywrightLauncher(opts Options) *PlaywrightLauncher {
	return &PlaywrightLauncher{opts: opts}
}

func (l *PlaywrightLauncher) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if l.opts.ProxyURL != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: l.opts.ProxyURL}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{}
	if l.opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(l.opts.UserAgent)
	}
	bctx, err := browser.NewContext(ctxOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return &playwrightSession{pw: pw, browser: browser, context: bctx, page: page}, nil
}

type playwrightSession struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	closed  bool
}

func (s *playwrightSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(ms(deadline(ctx, timeout))),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	return wrapPlaywright(err)
}

func (s *playwrightSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(ms(deadline(ctx, timeout))),
	})
	return wrapPlaywright(err)
}

func (s *playwrightSession) Count(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := bounded(ctx, timeout, s.page.Locator(selector).Count)
	return n, wrapPlaywright(err)
}

func (s *playwrightSession) ClickIfPresent(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	btn := s.page.Locator(selector).First()
	n, err := bounded(ctx, timeout, btn.Count)
	if err != nil {
		return false, wrapPlaywright(err)
	}
	if n == 0 {
		return false, nil
	}
	err = btn.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(deadline(ctx, timeout))),
	})
	if err != nil {
		return false, wrapPlaywright(err)
	}
	return true, nil
}

func (s *playwrightSession) ScrollPage(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := bounded(ctx, timeout, func() (interface{}, error) {
		return s.page.Evaluate(scrollScript)
	})
	return wrapPlaywright(err)
}

func (s *playwrightSession) ScrollIntoView(ctx context.Context, selector string, index int, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.page.Locator(selector).Nth(index).ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{
		Timeout: playwright.Float(ms(deadline(ctx, timeout))),
	})
	return wrapPlaywright(err)
}

func (s *playwrightSession) OuterHTML(ctx context.Context, selector string, index int, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := s.page.Locator(selector).Nth(index).Evaluate(`el => el.outerHTML`, nil, playwright.LocatorEvaluateOptions{
		Timeout: playwright.Float(ms(deadline(ctx, timeout))),
	})
	if err != nil {
		return "", wrapPlaywright(err)
	}
	html, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("outerHTML returned %T", res)
	}
	return html, nil
}

func (s *playwrightSession) Content(ctx context.Context, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := bounded(ctx, timeout, s.page.Content)
	return html, wrapPlaywright(err)
}

func (s *playwrightSession) Close() error {
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
	if s.context != nil {
		errs = append(errs, s.context.Close())
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	if s.pw != nil {
		errs = append(errs, s.pw.Stop())
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Printf("Playwright session closed with errors: %v", err)
	}
	return err
}

func wrapPlaywright(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
