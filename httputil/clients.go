package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	Scraping *http.Client // for marketplace pages, UA injected
	API      *http.Client // for broker-adjacent APIs (Telegram etc.)
}

// userAgentTransport stamps every outgoing request with the configured UA.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

func NewClients(userAgent string, scrapeTimeout time.Duration) *Clients {
	scraping := &http.Client{
		Timeout: scrapeTimeout,
		Transport: &userAgentTransport{
			base:      http.DefaultTransport,
			userAgent: userAgent,
		},
	}

	return &Clients{
		Scraping: scraping,
		API:      &http.Client{Timeout: 30 * time.Second},
	}
}
