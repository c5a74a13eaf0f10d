package httpcrawl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// FetchRequest describes a single reference to retrieve.
type FetchRequest struct {
	URL           string
	Headers       http.Header
	RespectRobots bool
}

// FetchResponse is what a fetch produced, headless or not.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Links        []string
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher performs one HTTP GET using a shared Colly collector as the
// base template, cloned per request so concurrent fetches don't share
// collector-level state.
type Fetcher struct {
	cfg       FetcherConfig
	base      *colly.Collector
	transport http.RoundTripper
}

// FetcherConfig controls collector behavior shared across requests.
type FetcherConfig struct {
	UserAgent      string
	AllowedDomains []string
	Timeout        time.Duration
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowedDomains(cfg.AllowedDomains...),
	)
	return &Fetcher{
		cfg:       cfg,
		base:      c,
		transport: newHTTPTransport(),
	}
}

// Fetch executes req and returns the response plus any <a href> links
// found in the document.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !req.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	var (
		result   FetchResponse
		links    []string
		fetchErr error
		start    = time.Now()
	)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		links = append(links, e.Request.AbsoluteURL(e.Attr("href")))
	})
	collector.OnResponse(func(r *colly.Response) {
		result = FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() { done <- collector.Visit(req.URL) }()

	select {
	case <-ctx.Done():
		return FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return FetchResponse{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
	}

	result.Links = links
	return result, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
