package integration

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPProber pings a plain health URL, used for the discovery component.
type HTTPProber struct {
	client *resty.Client
	url    string
}

// NewHTTPProber creates a prober for url. A zero timeout leaves the caller's context in charge.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPProber{client: client, url: url}
}

// Ping issues GET url and returns the response status.
func (p *HTTPProber) Ping(ctx context.Context) (int, error) {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}
