package workers

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"review_scrooper/httputil"
	"review_scrooper/models"
)

// ListingChecker tells the watch loop whether a listing page still exists,
// so removed listings are not opened in a browser on every tick.
type ListingChecker struct {
	httpClient *http.Client
	logFunc    LogFunc
}

func NewListingChecker(client *http.Client) *ListingChecker {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &ListingChecker{httpClient: client, logFunc: NoOpLogger}
}

func (c *ListingChecker) SetLogger(fn LogFunc) {
	c.logFunc = fn
}

type CheckResult struct {
	IsLive     bool
	StatusCode int
	Error      error
}

// Check tries a HEAD request first and falls back to GET when HEAD fails
// or is refused.
func (c *ListingChecker) Check(ctx context.Context, listingURL string) CheckResult {
	result := c.request(ctx, http.MethodHead, listingURL)
	if result.Error == nil && result.StatusCode != http.StatusMethodNotAllowed {
		return result
	}
	return c.request(ctx, http.MethodGet, listingURL)
}

// Live is Check reduced to a yes/no. Errors and unexpected statuses count as
// live so a flaky network never drops a listing from the watch list.
func (c *ListingChecker) Live(ctx context.Context, listingID, listingURL string) bool {
	result := c.Check(ctx, listingURL)
	if result.Error != nil {
		c.logFunc(models.LogLevelWarn, listingID, "liveness check failed: "+result.Error.Error())
		return true
	}
	if !result.IsLive {
		c.logFunc(models.LogLevelWarn, listingID, "listing appears removed, skipping harvest")
	}
	return result.IsLive
}

func (c *ListingChecker) request(ctx context.Context, method, listingURL string) CheckResult {
	req, err := http.NewRequestWithContext(ctx, method, listingURL, nil)
	if err != nil {
		return CheckResult{Error: err}
	}
	httputil.SetBrowserHeaders(req, "text/html,application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CheckResult{Error: err}
	}
	defer resp.Body.Close()

	result := CheckResult{StatusCode: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		result.IsLive = false
	case http.StatusMovedPermanently, http.StatusFound:
		result.IsLive = !isRemovedRedirect(resp.Header.Get("Location"))
	case http.StatusOK:
		result.IsLive = true
		if method == http.MethodGet {
			body, err := io.ReadAll(io.LimitReader(resp.Body, 500*1024))
			if err == nil && isRemovedPage(string(body)) {
				result.IsLive = false
			}
		}
	default:
		result.IsLive = true
	}
	return result
}

// isRemovedRedirect reports redirects away from a /rooms/ page.
func isRemovedRedirect(location string) bool {
	if location == "" {
		return false
	}
	return !strings.Contains(location, "/rooms/")
}

func isRemovedPage(html string) bool {
	indicators := []string{
		"this listing is no longer available",
		"this place is no longer available",
		"listing not found",
	}
	lower := strings.ToLower(html)
	for _, indicator := range indicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
