package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const maxDocumentBytes = 32 << 20

// FetchError is returned when the metadata endpoint answers with a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("segment metadata fetch failed: %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// Source identifies the place whose segment metadata is loaded.
type Source struct {
	Area  string
	Place string
}

// Loader fetches segment metadata documents. When File is set the document
// is read from disk instead of BaseURL.
type Loader struct {
	BaseURL    string
	File       string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewLoader(baseURL, file string, logger *slog.Logger) *Loader {
	return &Loader{
		BaseURL: baseURL,
		File:    file,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// DocumentURL is <base>/<area>/<place>/<place>_segment.json.
func (l *Loader) DocumentURL(src Source) (string, error) {
	if l.BaseURL == "" {
		return "", fmt.Errorf("segments base URL is not configured")
	}
	base := strings.TrimSuffix(l.BaseURL, "/")
	return fmt.Sprintf("%s/%s/%s/%s_segment.json",
		base, url.PathEscape(src.Area), url.PathEscape(src.Place), url.PathEscape(src.Place)), nil
}

// Load returns the metadata document. Every error is fatal for the session;
// nothing is retried.
func (l *Loader) Load(ctx context.Context, src Source) (Document, error) {
	if l.File != "" {
		f, err := os.Open(l.File)
		if err != nil {
			return nil, fmt.Errorf("open segment metadata: %w", err)
		}
		defer f.Close()
		l.logger.Info("loading segment metadata from file", "path", l.File)
		return ParseDocument(io.LimitReader(f, maxDocumentBytes))
	}

	docURL, err := l.DocumentURL(src)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	l.logger.Info("fetching segment metadata", "url", docURL, "area", src.Area, "place", src.Place)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read segment metadata: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: docURL, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	return ParseDocument(bytes.NewReader(body))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
