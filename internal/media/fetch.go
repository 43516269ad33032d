package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/apperr"
)

const (
	// DefaultMaxBytes is the largest accepted media file.
	DefaultMaxBytes int64 = 20 * 1024 * 1024

	defaultFetchTimeout = 60 * time.Second
)

// Fetcher downloads remote media into a local path with a size cap.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher builds a Fetcher. A nil client gets a 60s timeout.
func NewFetcher(client *http.Client, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: client, maxBytes: maxBytes}
}

// Download streams url into path and returns the number of bytes written.
// Oversized payloads fail with UnsupportedMedia wrapping apperr.ErrTooLarge;
// the partial file is left for the caller's cleanup.
func (f *Fetcher) Download(ctx context.Context, url, path string) (int64, error) {
	const op = "media: download"
	if strings.TrimSpace(url) == "" {
		return 0, apperr.New(apperr.KindUnsupportedMedia, op, apperr.ErrMissingLink)
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if errReq != nil {
		return 0, apperr.New(apperr.KindUnsupportedMedia, op, fmt.Errorf("%w: %v", apperr.ErrMissingLink, errReq))
	}
	resp, errDo := f.client.Do(req)
	if errDo != nil {
		return 0, apperr.New(apperr.KindExternalService, op, errDo)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, apperr.Newf(apperr.KindExternalService, op, "media host status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return 0, apperr.New(apperr.KindUnsupportedMedia, op, fmt.Errorf("%w: %d bytes", apperr.ErrTooLarge, resp.ContentLength))
	}

	file, errCreate := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errCreate != nil {
		return 0, fmt.Errorf("%s: create: %w", op, errCreate)
	}
	written, errCopy := io.Copy(file, &io.LimitedReader{R: resp.Body, N: f.maxBytes + 1})
	errClose := file.Close()
	if errCopy != nil {
		return written, apperr.New(apperr.KindExternalService, op, errCopy)
	}
	if errClose != nil {
		return written, fmt.Errorf("%s: close: %w", op, errClose)
	}
	if written > f.maxBytes {
		return written, apperr.New(apperr.KindUnsupportedMedia, op, fmt.Errorf("%w: max %d bytes", apperr.ErrTooLarge, f.maxBytes))
	}
	return written, nil
}
