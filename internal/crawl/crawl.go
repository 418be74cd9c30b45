// Package crawl defines the crawler port, the per-platform registry, and the
// tagged error taxonomy the retry layer dispatches on.
package crawl

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Request carries everything one fetch needs. Cookie and ProxyURL are set by
// the governance layer; crawlers must apply them when non-empty.
type Request struct {
	URL      string
	Cookie   string
	ProxyURL string
	Headers  http.Header
}

// Content is one extracted item.
type Content struct {
	URL       string
	Title     string
	Body      string
	FetchedAt time.Time
}

// Crawler fetches and extracts content for one platform.
type Crawler interface {
	Crawl(ctx context.Context, req Request) ([]Content, error)
}

// Factory resolves a platform name to its crawler.
type Factory interface {
	GetCrawler(platform string) (Crawler, bool)
}

// Registry is a concurrency-safe Factory backed by a map.
type Registry struct {
	mu       sync.RWMutex
	crawlers map[string]Crawler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{crawlers: make(map[string]Crawler)}
}

// Register binds platform to c, replacing any previous binding.
func (r *Registry) Register(platform string, c Crawler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crawlers[platform] = c
}

// GetCrawler implements Factory.
func (r *Registry) GetCrawler(platform string) (Crawler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.crawlers[platform]
	return c, ok
}

// Platforms lists the registered platform names.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.crawlers))
	for name := range r.crawlers {
		out = append(out, name)
	}
	return out
}
