package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betzim/mediameter/internal/apperr"
	"github.com/betzim/mediameter/internal/retry"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

type scriptedGateway struct {
	failures int32
	calls    atomic.Int32
}

func (g *scriptedGateway) SendText(context.Context, string, string) error {
	n := g.calls.Add(1)
	if n <= g.failures {
		return apperr.Newf(apperr.KindTransientDelivery, "test", "attempt %d failed", n)
	}
	return nil
}

func TestWhapiGateway_PayloadAndAuth(t *testing.T) {
	var got textMessage
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gw := NewWhapiGateway(srv.URL+"/", "secret", time.Second, srv.Client())
	if err := gw.SendText(context.Background(), "972501234567", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if path != "/messages/text" {
		t.Fatalf("unexpected path %q", path)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	if got.To != "972501234567@s.whatsapp.net" || got.Body != "hello" || got.TypingTime != 0 || !got.NoLinkPreview {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWhapiGateway_NonSuccessIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw := NewWhapiGateway(srv.URL, "k", time.Second, srv.Client())
	err := gw.SendText(context.Background(), "972501234567", "hello")
	if !errors.Is(err, apperr.ErrTransientDelivery) {
		t.Fatalf("expected transient delivery error, got %v", err)
	}
}

func TestSender_SucceedsOnThirdAttempt(t *testing.T) {
	gw := &scriptedGateway{failures: 2}
	if ok := NewSender(gw, fastPolicy()).Send(context.Background(), "972501234567", "hi"); !ok {
		t.Fatalf("expected delivery to succeed")
	}
	if n := gw.calls.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestSender_ReportsFailureAfterThreeAttempts(t *testing.T) {
	gw := &scriptedGateway{failures: 10}
	if ok := NewSender(gw, fastPolicy()).Send(context.Background(), "972501234567", "hi"); ok {
		t.Fatalf("expected delivery to fail")
	}
	if n := gw.calls.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestChatID(t *testing.T) {
	if got := ChatID("120363@g.us"); got != "120363@g.us" {
		t.Fatalf("expected chat id to pass through, got %q", got)
	}
}
