// Package pipeline implements the ingestion stages: loading resource
// content and turning it into encoded, persisted chunks.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// maxDocumentBytes bounds how much of a fetched document is read.
const maxDocumentBytes = 10 << 20

// Loader fetches resource content from its source URL.
type Loader struct {
	client *http.Client
}

// NewLoader builds a loader. client may be nil.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{client: client}
}

// LoadResult is the outcome of fetching one document.
type LoadResult struct {
	Content string
	Title   string
	Hash    string
}

// Load fetches url and returns its text content with a sha-256 hash used
// for change detection. HTML responses are reduced to their visible text.
func (l *Loader) Load(ctx context.Context, url string) (LoadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return LoadResult{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return LoadResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return LoadResult{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return LoadResult{}, fmt.Errorf("read %s: %w", url, err)
	}

	content := string(raw)
	var title string
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		title, content = reduceHTML(content)
	}
	return LoadResult{
		Content: content,
		Title:   title,
		Hash:    ContentHash(content),
	}, nil
}

// ContentHash returns the sha-256 hex digest of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

var (
	titlePattern  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	dropPattern   = regexp.MustCompile(`(?is)<(?:script|style|head|noscript)[^>]*>.*?</(?:script|style|head|noscript)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacedPattern = regexp.MustCompile(`[ \t]+`)
	linesPattern  = regexp.MustCompile(`\n{3,}`)
)

// reduceHTML extracts the page title and strips markup down to visible
// text. Good enough for article-like pages; structured extraction belongs in
// a custom chunking endpoint.
func reduceHTML(doc string) (title, text string) {
	if m := titlePattern.FindStringSubmatch(doc); len(m) == 2 {
		title = strings.TrimSpace(tagPattern.ReplaceAllString(m[1], ""))
	}
	text = dropPattern.ReplaceAllString(doc, " ")
	text = tagPattern.ReplaceAllString(text, "\n")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = spacedPattern.ReplaceAllString(text, " ")
	text = linesPattern.ReplaceAllString(text, "\n\n")
	return title, strings.TrimSpace(text)
}
