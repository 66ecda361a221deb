// Package fetcher collects reference material for article generation
// by extracting readable content from configured source pages.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const defaultMaxExcerptLen = 2000

// Reference is one collected piece of source material.
type Reference struct {
	Title   string
	URL     string
	Excerpt string
}

// Fetcher pulls readable excerpts from a fixed set of source URLs.
type Fetcher struct {
	sources       []string
	httpClient    *http.Client
	maxExcerptLen int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		f.httpClient.Timeout = d
	}
}

// WithMaxExcerptLength caps the excerpt length per reference.
func WithMaxExcerptLength(n int) Option {
	return func(f *Fetcher) {
		f.maxExcerptLen = n
	}
}

// NewFetcher creates a fetcher over the given source URLs.
func NewFetcher(sources []string, opts ...Option) *Fetcher {
	f := &Fetcher{
		sources:       sources,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		maxExcerptLen: defaultMaxExcerptLen,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Collect fetches every configured source. Failing sources are logged
// and skipped; generation proceeds with whatever was collected.
func (f *Fetcher) Collect(ctx context.Context) ([]Reference, error) {
	var refs []Reference
	for _, source := range f.sources {
		ref, err := f.fetchOne(ctx, source)
		if err != nil {
			slog.Warn("failed to collect source", "url", source, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, rawURL string) (Reference, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return Reference{}, fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Reference{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ContentReviewBot/1.0)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Reference{}, fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reference{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return Reference{}, fmt.Errorf("parse content: %w", err)
	}

	excerpt := strings.TrimSpace(article.TextContent)
	if len(excerpt) > f.maxExcerptLen {
		excerpt = excerpt[:f.maxExcerptLen]
	}

	return Reference{
		Title:   strings.TrimSpace(article.Title),
		URL:     rawURL,
		Excerpt: excerpt,
	}, nil
}
