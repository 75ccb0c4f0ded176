package scraper

import (
	"context"
	"errors"
	"log"
	"time"

	"review_scrooper/browser"
)

// Load outcomes reported in LoadResult.Reason.
const (
	ReasonConverged      = "converged"
	ReasonIterationLimit = "iteration_limit"
	ReasonDurationLimit  = "duration_limit"
)

type LoaderConfig struct {
	ReviewSelector   string
	LoadMoreSelector string
	Settle           time.Duration
	StallLimit       int
	MaxIterations    int
	MaxDuration      time.Duration
	OpTimeout        time.Duration
}

type LoadResult struct {
	Iterations int
	Count      int
	Converged  bool
	Reason     string
}

// Loader expands a lazily loading review list until the element count
// stops changing for StallLimit consecutive observations.
type Loader struct {
	cfg LoaderConfig
	now func() time.Time
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.StallLimit < 1 {
		cfg.StallLimit = 1
	}
	return &Loader{cfg: cfg, now: time.Now}
}

func (l *Loader) LoadAll(ctx context.Context, sess browser.Session) (LoadResult, error) {
	var res LoadResult
	start := l.now()
	previous, retries := 0, 0

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if l.cfg.MaxIterations > 0 && res.Iterations >= l.cfg.MaxIterations {
			res.Reason = ReasonIterationLimit
			log.Printf("Warning: load stopped after %d iterations with %d reviews, list may be incomplete", res.Iterations, res.Count)
			return res, nil
		}
		if l.cfg.MaxDuration > 0 && l.now().Sub(start) >= l.cfg.MaxDuration {
			res.Reason = ReasonDurationLimit
			log.Printf("Warning: load stopped after %s with %d reviews, list may be incomplete", l.cfg.MaxDuration, res.Count)
			return res, nil
		}
		res.Iterations++

		count, err := sess.Count(ctx, l.cfg.ReviewSelector, l.cfg.OpTimeout)
		if err != nil {
			if !errors.Is(err, browser.ErrTimeout) {
				return res, l.fail(ctx, err)
			}
			count = previous
		}
		res.Count = count
		log.Printf("Reviews in DOM: %d", count)

		if count == previous {
			retries++
			if retries >= l.cfg.StallLimit {
				res.Converged = true
				res.Reason = ReasonConverged
				return res, nil
			}
		} else {
			retries = 0
			previous = count
		}

		if err := l.advance(ctx, sess); err != nil {
			return res, l.fail(ctx, err)
		}
		if err := sleep(ctx, l.cfg.Settle); err != nil {
			return res, err
		}
	}
}

// advance clicks the load-more control, or scrolls a page when it is absent
// or does not respond in time.
func (l *Loader) advance(ctx context.Context, sess browser.Session) error {
	if l.cfg.LoadMoreSelector != "" {
		clicked, err := sess.ClickIfPresent(ctx, l.cfg.LoadMoreSelector, l.cfg.OpTimeout)
		if err != nil && !errors.Is(err, browser.ErrTimeout) {
			return err
		}
		if clicked {
			return nil
		}
	}

	if err := sess.ScrollPage(ctx, l.cfg.OpTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
		return err
	}
	return nil
}

func (l *Loader) fail(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
