package httputil

import (
	"log"
	"net/http"
	"net/url"
	"time"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Clients struct {
	Media *http.Client // proxied when configured, for image CDNs
	Check *http.Client // proxied when configured, never follows redirects
}

func NewClients(proxyURL string) *Clients {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
			log.Printf("HTTP clients using proxy: %s", parsed.Host)
		} else {
			log.Printf("Warning: ignoring invalid proxy URL: %v", err)
		}
	}

	return &Clients{
		Media: &http.Client{
			Timeout:   60 * time.Second,
			Transport: transport,
		},
		Check: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SetBrowserHeaders makes a request look like it came from a desktop browser.
func SetBrowserHeaders(req *http.Request, accept string) {
	req.Header.Set("User-Agent", DefaultUserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
}
