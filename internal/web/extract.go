// Package web turns pages into plain text suitable for ingestion.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 10 << 20
	userAgent      = "lodestone/1.0"
)

// Extractor fetches a page over HTTP and reduces it to title plus visible
// text. It implements engine.URLFetcher.
type Extractor struct {
	client *http.Client
}

// NewExtractor builds an Extractor. A nil client gets a default with
// timeouts.
func NewExtractor(client *http.Client) *Extractor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Extractor{client: client}
}

// Fetch retrieves the page and extracts its title and body text. Script,
// style, and navigation chrome are dropped before text extraction.
func (x *Extractor) Fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := x.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", "", fmt.Errorf("parse page: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("script, style, noscript, nav, header, footer, iframe").Remove()

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})

	text := strings.TrimSpace(b.String())
	if text == "" {
		// Pages without semantic markup still get their raw body text.
		text = strings.TrimSpace(collapseWhitespace(root.Text()))
	}
	return title, text, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
