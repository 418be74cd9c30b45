package crawl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/crawlkit/crawld/internal/clock"
)

// CollyConfig controls collector behavior.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
	// TitleSelector and BodySelector are CSS selectors for extraction.
	// Empty selectors fall back to "title" and "body".
	TitleSelector string
	BodySelector  string
}

// CollyCrawler is a generic HTML crawler on the Colly collector. Platform
// packages that need custom extraction wrap or replace it; most platforms
// only differ in selectors.
type CollyCrawler struct {
	cfg           CollyConfig
	clk           clock.Clock
	baseCollector *colly.Collector
}

// NewCollyCrawler builds a CollyCrawler.
func NewCollyCrawler(cfg CollyConfig, clk clock.Clock) *CollyCrawler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TitleSelector == "" {
		cfg.TitleSelector = "title"
	}
	if cfg.BodySelector == "" {
		cfg.BodySelector = "body"
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &CollyCrawler{cfg: cfg, clk: clk, baseCollector: c}
}

// Crawl fetches req.URL and extracts title/body content. Cookie and proxy
// from the request are applied per call; the base collector stays clean.
func (c *CollyCrawler) Crawl(ctx context.Context, req Request) ([]Content, error) {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(newTransport(req.ProxyURL))

	var (
		content  Content
		status   int
		crawlErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		if req.Cookie != "" {
			r.Headers.Set("Cookie", req.Cookie)
		}
		for key, values := range req.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		content.URL = r.Request.URL.String()
		content.FetchedAt = c.clk.Now()
	})
	collector.OnHTML(c.cfg.TitleSelector, func(e *colly.HTMLElement) {
		if content.Title == "" {
			content.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnHTML(c.cfg.BodySelector, func(e *colly.HTMLElement) {
		content.Body = strings.TrimSpace(e.Text)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			crawlErr = FromStatus(r.StatusCode, err)
			return
		}
		crawlErr = Transient(err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return nil, Transient(fmt.Errorf("crawl canceled: %w", ctx.Err()))
	case err := <-done:
		if crawlErr != nil {
			return nil, crawlErr
		}
		if err != nil {
			return nil, Transient(fmt.Errorf("visit %s: %w", req.URL, err))
		}
	}
	if status == 0 {
		return nil, Transient(fmt.Errorf("no response from %s", req.URL))
	}
	return []Content{content}, nil
}

func newTransport(proxyURL string) *http.Transport {
	t := &http.Transport{
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
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			t.Proxy = http.ProxyURL(u)
		}
	}
	return t
}
