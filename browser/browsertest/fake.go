// Package browsertest provides an in-memory browser.Session for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"review_scrooper/browser"
)

// Session replays scripted element counts and serves canned markup.
type Session struct {
	mu sync.Mutex

	// Counts is returned by successive Count calls; the last value repeats.
	Counts []int
	// LoadMore reports whether the load-more control is present on the
	// n-th ClickIfPresent call (0-based). Nil means never present.
	LoadMore func(n int) bool
	// CountErr, when set, may fail the n-th Count call.
	CountErr func(n int) error
	// OnCount runs after every Count call with its 0-based index.
	OnCount func(n int)
	// OnScrollIntoView runs after an element is scrolled into view.
	OnScrollIntoView func(index int)

	Elements []string
	Page     string

	NavigateErr  error
	WaitErr      error
	ContentErr   error
	OuterHTMLErr map[int]error
	ClickErr     error
	ScrollErr    error

	Closed           bool
	Navigated        string
	CountCalls       int
	ClickCalls       int
	Clicks           int
	Scrolls          int
	ContentCalls     int
	ScrolledIntoView []int
}

func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Navigated = url
	return s.NavigateErr
}

func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.WaitErr
}

func (s *Session) Count(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	s.mu.Lock()
	n := s.CountCalls
	s.CountCalls++
	hook := s.OnCount
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if hook != nil {
		defer hook(n)
	}
	if s.CountErr != nil {
		if err := s.CountErr(n); err != nil {
			return 0, err
		}
	}
	if len(s.Counts) == 0 {
		return len(s.Elements), nil
	}
	if n >= len(s.Counts) {
		return s.Counts[len(s.Counts)-1], nil
	}
	return s.Counts[n], nil
}

func (s *Session) ClickIfPresent(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	n := s.ClickCalls
	s.ClickCalls++
	if s.LoadMore == nil || !s.LoadMore(n) {
		return false, nil
	}
	if s.ClickErr != nil {
		return false, s.ClickErr
	}
	s.Clicks++
	return true, nil
}

func (s *Session) ScrollPage(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ScrollErr != nil {
		return s.ScrollErr
	}
	s.Scrolls++
	return nil
}

func (s *Session) ScrollIntoView(ctx context.Context, selector string, index int, timeout time.Duration) error {
	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.ScrolledIntoView = append(s.ScrolledIntoView, index)
	hook := s.OnScrollIntoView
	s.mu.Unlock()

	if hook != nil {
		hook(index)
	}
	return nil
}

func (s *Session) OuterHTML(ctx context.Context, selector string, index int, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.OuterHTMLErr[index]; err != nil {
		return "", err
	}
	if index < 0 || index >= len(s.Elements) {
		return "", fmt.Errorf("no element %d", index)
	}
	return s.Elements[index], nil
}

func (s *Session) Content(ctx context.Context, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.ContentCalls++
	return s.Page, s.ContentErr
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// IsClosed is safe to call while a harvest is still running.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Closed
}

// Launcher hands out Session, or fails with Err.
type Launcher struct {
	Session *Session
	Err     error
	Opened  int
}

func (l *Launcher) Open(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.Err != nil {
		return nil, l.Err
	}
	l.Opened++
	return l.Session, nil
}
