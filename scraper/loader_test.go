package scraper

import (
	"context"
	"errors"
	"testing"
	"time"

	"review_scrooper/browser"
	"review_scrooper/browser/browsertest"
)

func testLoaderConfig() LoaderConfig {
	return LoaderConfig{
		ReviewSelector:   ".review",
		LoadMoreSelector: "button.more",
		StallLimit:       5,
		MaxIterations:    500,
		MaxDuration:      time.Minute,
		OpTimeout:        time.Second,
	}
}

func growing(n int) []int {
	counts := make([]int, n)
	for i := range counts {
		counts[i] = i + 1
	}
	return counts
}

func always(int) bool { return true }

func TestLoadAllConvergesWithLoadMore(t *testing.T) {
	sess := &browsertest.Session{Counts: []int{3, 6, 9}, LoadMore: always}

	res, err := NewLoader(testLoaderConfig()).LoadAll(context.Background(), sess)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if !res.Converged || res.Reason != ReasonConverged {
		t.Fatalf("expected convergence, got %+v", res)
	}
	if res.Count != 9 {
		t.Fatalf("expected 9 reviews, got %d", res.Count)
	}
	// three growing observations, then five stalled ones
	if sess.CountCalls != 8 {
		t.Fatalf("expected 8 count calls, got %d", sess.CountCalls)
	}
	if sess.Clicks != 7 || sess.Scrolls != 0 {
		t.Fatalf("expected 7 clicks and no scrolls, got %d clicks %d scrolls", sess.Clicks, sess.Scrolls)
	}
}

func TestLoadAllScrollsWithoutLoadMore(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.StallLimit = 2
	sess := &browsertest.Session{Counts: []int{2, 4}}

	res, err := NewLoader(cfg).LoadAll(context.Background(), sess)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if res.Count != 4 || res.Iterations != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if sess.Scrolls != 3 || sess.Clicks != 0 {
		t.Fatalf("expected 3 scrolls, got %d scrolls %d clicks", sess.Scrolls, sess.Clicks)
	}
}

func TestLoadAllStallCounterResetsOnGrowth(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.StallLimit = 3
	sess := &browsertest.Session{Counts: []int{5, 5, 5, 7, 7, 7, 7}}

	res, err := NewLoader(cfg).LoadAll(context.Background(), sess)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if res.Count != 7 || res.Iterations != 7 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLoadAllCountTimeoutIsStall(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.StallLimit = 3
	sess := &browsertest.Session{
		Counts: []int{5, 8},
		CountErr: func(n int) error {
			if n >= 2 {
				return browser.ErrTimeout
			}
			return nil
		},
	}

	res, err := NewLoader(cfg).LoadAll(context.Background(), sess)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if !res.Converged || res.Count != 8 || res.Iterations != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLoadAllClickTimeoutFallsBackToScroll(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.StallLimit = 2
	sess := &browsertest.Session{Counts: []int{1, 2}, LoadMore: always, ClickErr: browser.ErrTimeout}

	if _, err := NewLoader(cfg).LoadAll(context.Background(), sess); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if sess.Clicks != 0 || sess.Scrolls != 3 {
		t.Fatalf("expected scroll fallback, got %d clicks %d scrolls", sess.Clicks, sess.Scrolls)
	}
}

func TestLoadAllPropagatesDriverErrors(t *testing.T) {
	boom := errors.New("target closed")
	sess := &browsertest.Session{CountErr: func(int) error { return boom }}

	_, err := NewLoader(testLoaderConfig()).LoadAll(context.Background(), sess)
	if !errors.Is(err, boom) {
		t.Fatalf("expected driver error, got %v", err)
	}

	sess = &browsertest.Session{Counts: []int{1, 2}, ScrollErr: boom}
	_, err = NewLoader(testLoaderConfig()).LoadAll(context.Background(), sess)
	if !errors.Is(err, boom) {
		t.Fatalf("expected scroll error, got %v", err)
	}
}

func TestLoadAllIterationLimit(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.MaxIterations = 10
	sess := &browsertest.Session{Counts: growing(100), LoadMore: always}

	res, err := NewLoader(cfg).LoadAll(context.Background(), sess)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if res.Converged || res.Reason != ReasonIterationLimit {
		t.Fatalf("expected iteration limit, got %+v", res)
	}
	if res.Iterations != 10 || sess.CountCalls != 10 || res.Count != 10 {
		t.Fatalf("unexpected result %+v after %d count calls", res, sess.CountCalls)
	}
}

func TestLoadAllDurationLimit(t *testing.T) {
	cfg := testLoaderConfig()
	cfg.MaxDuration = 3 * time.Minute
	sess := &browsertest.Session{Counts: growing(100), LoadMore: always}

	l := NewLoader(cfg)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ticks := 0
	l.now = func() time.Time {
		now := base.Add(time.Duration(ticks) * time.Minute)
		ticks++
		return now
	}

	res, err := l.LoadAll(context.Background(), sess)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if res.Reason != ReasonDurationLimit || res.Iterations != 2 {
		t.Fatalf("expected duration limit after 2 iterations, got %+v", res)
	}
}

func TestLoadAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &browsertest.Session{
		Counts:   growing(100),
		LoadMore: always,
		OnCount: func(n int) {
			if n == 2 {
				cancel()
			}
		},
	}

	_, err := NewLoader(testLoaderConfig()).LoadAll(ctx, sess)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sess.CountCalls != 3 {
		t.Fatalf("loader kept going after cancel: %d count calls", sess.CountCalls)
	}
}

func TestSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep ignored cancellation")
	}
}
