// Package extract turns a source URL into readable title and body text.
// The pipeline treats it as a black box: text in, article out.
package extract

import (
	"context"
	"errors"
)

// ErrNotReadable is returned when a page yields no readable content. The
// pipeline surfaces it as a document-level error; the process never enters
// generation for such a document.
var ErrNotReadable = errors.New("no readable content found")

// Article is the readable projection of a web page.
type Article struct {
	Title string
	Text  string
}

// Extractor fetches and extracts the readable content of a URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (Article, error)
}
