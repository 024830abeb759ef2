// Package page provides the rendered-page capability the extraction
// strategies are written against: open a URL, wait for a selector to be
// populated, read text or attributes, release the page.
package page

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/rate"
)

// Page is a handle to one rendered document. Implementations must be released
// with Close on all paths, including when extraction fails.
type Page interface {
	// Text waits until selector matches at least one element, then returns
	// the combined text content of the first match.
	Text(ctx context.Context, selector string) (string, error)
	// Attributes waits until selector matches, then returns the given
	// attribute of every matched element, in document order. Elements
	// without the attribute yield an empty string.
	Attributes(ctx context.Context, selector, attr string) ([]string, error)
	Close() error
}

// Browser opens pages. One Browser is shared per scrape run; pages are opened
// and released sequentially.
type Browser interface {
	Open(ctx context.Context, url string) (Page, error)
	Close() error
}

// FetcherBrowser implements Browser over plain HTTP + goquery. Sources that
// populate their listing containers asynchronously are handled by re-fetching
// until the awaited selector is present, bounded by the caller's context.
type FetcherBrowser struct {
	logger       *zap.Logger
	client       *http.Client
	rateMgr      *rate.Manager
	pollInterval time.Duration
}

// NewFetcher creates a FetcherBrowser. rateMgr throttles fetches per source
// host and may be nil.
func NewFetcher(logger *zap.Logger, client *http.Client, rateMgr *rate.Manager, pollInterval time.Duration) *FetcherBrowser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &FetcherBrowser{
		logger:       logger,
		client:       client,
		rateMgr:      rateMgr,
		pollInterval: pollInterval,
	}
}

func (b *FetcherBrowser) Open(ctx context.Context, url string) (Page, error) {
	p := &fetchedPage{browser: b, url: url}
	if _, err := p.fetch(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *FetcherBrowser) Close() error { return nil }

type fetchedPage struct {
	browser *FetcherBrowser
	url     string
	doc     *goquery.Document
	closed  bool
}

func (p *fetchedPage) fetch(ctx context.Context) (*goquery.Document, error) {
	b := p.browser
	if b.rateMgr != nil {
		if err := b.rateMgr.Wait(ctx, hostOf(p.url)); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p.url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", p.url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.url, err)
	}
	p.doc = doc
	return doc, nil
}

// waitFor returns the current selection for selector, re-fetching the page
// until it is non-empty or ctx expires.
func (p *fetchedPage) waitFor(ctx context.Context, selector string) (*goquery.Selection, error) {
	if p.closed {
		return nil, fmt.Errorf("page already released")
	}
	for {
		if p.doc != nil {
			if sel := p.doc.Find(selector); sel.Length() > 0 {
				return sel, nil
			}
		}

		p.browser.logger.Debug("page.waiting_for_content",
			zap.String("url", p.url),
			zap.String("selector", selector))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %q on %s: %w", selector, p.url, ctx.Err())
		case <-time.After(p.browser.pollInterval):
		}

		if _, err := p.fetch(ctx); err != nil {
			return nil, err
		}
	}
}

func (p *fetchedPage) Text(ctx context.Context, selector string) (string, error) {
	sel, err := p.waitFor(ctx, selector)
	if err != nil {
		return "", err
	}
	return sel.First().Text(), nil
}

func (p *fetchedPage) Attributes(ctx context.Context, selector, attr string) ([]string, error) {
	sel, err := p.waitFor(ctx, selector)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		v, _ := s.Attr(attr)
		values = append(values, v)
	})
	return values, nil
}

func (p *fetchedPage) Close() error {
	p.closed = true
	p.doc = nil
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
