package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

type readabilityExtractor struct {
	client  *http.Client
	timeout time.Duration
}

// NewReadabilityExtractor returns the production extractor: plain HTTP fetch
// followed by a readability pass.
func NewReadabilityExtractor(timeout time.Duration) Extractor {
	return &readabilityExtractor{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (e *readabilityExtractor) Extract(ctx context.Context, rawURL string) (Article, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Article{}, fmt.Errorf("parse source url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Article{}, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("fetch source url: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Article{}, fmt.Errorf("fetch source url: status %s", resp.Status)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrNotReadable, err)
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = "No title found"
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return Article{}, ErrNotReadable
	}

	return Article{Title: title, Text: text}, nil
}
