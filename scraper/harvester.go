package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"review_scrooper/browser"
	"review_scrooper/images"
	"review_scrooper/models"
	"review_scrooper/parser"
)

type HarvesterConfig struct {
	Loader        LoaderConfig
	NavTimeout    time.Duration
	WaitTimeout   time.Duration
	OpTimeout     time.Duration
	ElementSettle time.Duration
	ReviewIDAttr  string
	StateMarker   string
}

type HarvestResult struct {
	Reviews []models.Review
	Load    LoadResult
	// Skipped counts elements whose markup could not be read.
	Skipped int
}

// Partial reports whether the review list may be incomplete.
func (r *HarvestResult) Partial() bool {
	return !r.Load.Converged || r.Skipped > 0
}

type Harvester struct {
	launcher browser.Launcher
	parser   *parser.Parser
	cfg      HarvesterConfig
}

func NewHarvester(launcher browser.Launcher, p *parser.Parser, cfg HarvesterConfig) *Harvester {
	if cfg.ReviewIDAttr == "" {
		cfg.ReviewIDAttr = "data-review-id"
	}
	return &Harvester{launcher: launcher, parser: p, cfg: cfg}
}

// Harvest opens one session, loads every review on the page and extracts
// them in document order. The session is closed on every return path.
func (h *Harvester) Harvest(ctx context.Context, url string) (*HarvestResult, error) {
	sess, err := h.launcher.Open(ctx)
	if err != nil {
		return nil, h.fail(ctx, StageLaunch, ErrSessionStart, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("Warning: failed to close browser session: %v", err)
		}
	}()

	log.Printf("Loading page: %s", url)
	if err := sess.Navigate(ctx, url, h.cfg.NavTimeout); err != nil {
		return nil, h.fail(ctx, StageNavigate, ErrPageNotLoaded, err)
	}

	selector := h.cfg.Loader.ReviewSelector
	if err := sess.WaitFor(ctx, selector, h.cfg.WaitTimeout); err != nil {
		return nil, h.fail(ctx, StageWait, ErrPageNotLoaded, err)
	}

	load, err := NewLoader(h.cfg.Loader).LoadAll(ctx, sess)
	if err != nil {
		return nil, h.fail(ctx, StageLoad, ErrInternal, err)
	}

	total, err := sess.Count(ctx, selector, h.cfg.OpTimeout)
	if err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			return nil, h.fail(ctx, StageExtract, ErrInternal, err)
		}
		total = load.Count
	}

	ix := images.NewNameIndex(h.cfg.StateMarker, func(ctx context.Context) (string, error) {
		return sess.Content(ctx, h.cfg.OpTimeout)
	})

	result := &HarvestResult{
		Reviews: make([]models.Review, 0, total),
		Load:    load,
	}
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, newHarvestError(StageExtract, ErrCancelled, err)
		}

		review, err := h.extract(ctx, sess, ix, i)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, newHarvestError(StageExtract, ErrCancelled, cerr)
			}
			log.Printf("Warning: skipping review #%d: %v", i+1, err)
			result.Skipped++
			continue
		}
		result.Reviews = append(result.Reviews, review)
	}

	return result, nil
}

func (h *Harvester) extract(ctx context.Context, sess browser.Session, ix *images.NameIndex, i int) (models.Review, error) {
	selector := h.cfg.Loader.ReviewSelector

	if err := sess.ScrollIntoView(ctx, selector, i, h.cfg.OpTimeout); err != nil && !errors.Is(err, browser.ErrTimeout) {
		return models.Review{}, fmt.Errorf("scroll into view: %w", err)
	}
	if err := sleep(ctx, h.cfg.ElementSettle); err != nil {
		return models.Review{}, err
	}

	markup, err := sess.OuterHTML(ctx, selector, i, h.cfg.OpTimeout)
	if err != nil {
		return models.Review{}, fmt.Errorf("read markup: %w", err)
	}

	el, err := fragmentRoot(markup, selector)
	if err != nil {
		return models.Review{}, err
	}

	parsed := h.parser.Parse(nodeText(el))
	reviewID := models.StringPtr(strings.TrimSpace(el.AttrOr(h.cfg.ReviewIDAttr, "")))
	urls := images.Resolve(ctx, el, parsed.Fields.Username, ix)

	return models.NewReview(parsed.Fields, reviewID, urls), nil
}

func (h *Harvester) fail(ctx context.Context, stage string, kind, cause error) error {
	if cerr := ctx.Err(); cerr != nil {
		return newHarvestError(stage, ErrCancelled, cerr)
	}
	return newHarvestError(stage, kind, cause)
}

// fragmentRoot parses one element's outer markup and returns the element
// itself, falling back to the first body child when the selector no longer
// matches the detached fragment.
func fragmentRoot(markup, selector string) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	if el := doc.Find(selector).First(); el.Length() > 0 {
		return el, nil
	}
	el := doc.Find("body").Children().First()
	if el.Length() == 0 {
		return nil, fmt.Errorf("empty markup")
	}
	return el, nil
}

// nodeText joins every non-blank text node under the selection with single
// spaces, each node trimmed. Script and style contents are skipped.
func nodeText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
