package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a single browser operation exceeds its
// deadline. Drivers wrap their native timeout errors with it.
var ErrTimeout = errors.New("browser operation timed out")

// Session is one open page. Elements are addressed by selector and index
// so callers never hold driver handles across operations.
type Session interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string, timeout time.Duration) (int, error)
	// ClickIfPresent clicks the first element matching selector. It reports
	// false without error when nothing matches.
	ClickIfPresent(ctx context.Context, selector string, timeout time.Duration) (bool, error)
	// ScrollPage scrolls the window down by the full document height.
	ScrollPage(ctx context.Context, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, selector string, index int, timeout time.Duration) error
	OuterHTML(ctx context.Context, selector string, index int, timeout time.Duration) (string, error)
	Content(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// Launcher opens sessions. Each harvest owns exactly one session.
type Launcher interface {
	Open(ctx context.Context) (Session, error)
}

type Options struct {
	Headless bool
	ProxyURL string
	// UserAgent overrides the driver default when set.
	UserAgent string
}

// NewLauncher picks a driver by name. Unknown names fall back to playwright.
func NewLauncher(driver string, opts Options) Launcher {
	switch driver {
	case "rod":
		return NewRodLauncher(opts)
	default:
		return NewPlaywrightLauncher(opts)
	}
}

// scrollScript scrolls by the full document height.
const scrollScript = `() => window.scrollBy(0, document.body.scrollHeight)`

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

// deadline shortens timeout to whatever is left on ctx.
func deadline(ctx context.Context, timeout time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			if left < time.Millisecond {
				return time.Millisecond
			}
			return left
		}
	}
	return timeout
}

// bounded runs fn but stops waiting once timeout or ctx expires. fn keeps
// running in the background; its result is dropped.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(deadline(ctx, timeout))
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
