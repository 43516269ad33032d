package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/betzim/mediameter/internal/apperr"
)

func TestFetcher_DownloadsWithinLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "a.ogg")
	n, err := NewFetcher(srv.Client(), 64).Download(context.Background(), srv.URL, path)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes, got %d", n)
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil || string(data) != "0123456789" {
		t.Fatalf("unexpected file content %q (%v)", data, errRead)
	}
}

func TestFetcher_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		// Chunked response: no Content-Length, so the streaming cap applies.
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			_, _ = w.Write(make([]byte, 16))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), 32).Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "big.bin"))
	if !errors.Is(err, apperr.ErrUnsupportedMedia) || !errors.Is(err, apperr.ErrTooLarge) {
		t.Fatalf("expected too large unsupported media, got %v", err)
	}
}

func TestFetcher_UpstreamStatusIsExternalService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.Client(), 32).Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}
