// Package notify delivers text replies through the messaging gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/betzim/mediameter/internal/apperr"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	whatsappSuffix        = "@s.whatsapp.net"
	// maxErrorBody caps how much of a failed response is kept for logs.
	maxErrorBody = 2048
)

// Gateway posts a single text message. Implementations make one attempt.
type Gateway interface {
	SendText(ctx context.Context, to, body string) error
}

// textMessage is the gateway's text-message payload.
type textMessage struct {
	To            string `json:"to"`
	Body          string `json:"body"`
	TypingTime    int    `json:"typing_time"`
	NoLinkPreview bool   `json:"no_link_preview"`
}

// WhapiGateway talks to a Whapi-compatible HTTP API.
type WhapiGateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewWhapiGateway builds a gateway client. A nil client uses a fresh http.Client.
func NewWhapiGateway(baseURL, apiKey string, timeout time.Duration, client *http.Client) *WhapiGateway {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &WhapiGateway{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		timeout: timeout,
		client:  client,
	}
}

// ChatID converts a phone number to the gateway's chat identifier.
func ChatID(to string) string {
	to = strings.TrimSpace(to)
	if strings.Contains(to, "@") {
		return to
	}
	return to + whatsappSuffix
}

// SendText posts body to to within the per-attempt timeout.
func (g *WhapiGateway) SendText(ctx context.Context, to, body string) error {
	const op = "notify: send text"
	if g == nil {
		return apperr.Newf(apperr.KindTransientDelivery, op, "nil gateway")
	}
	payload, errMarshal := json.Marshal(textMessage{
		To:            ChatID(to),
		Body:          body,
		TypingTime:    0,
		NoLinkPreview: true,
	})
	if errMarshal != nil {
		return fmt.Errorf("%s: encode payload: %w", op, errMarshal)
	}

	ctxReq, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, errReq := http.NewRequestWithContext(ctxReq, http.MethodPost, g.baseURL+"/messages/text", bytes.NewReader(payload))
	if errReq != nil {
		return fmt.Errorf("%s: build request: %w", op, errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, errDo := g.client.Do(req)
	if errDo != nil {
		return apperr.New(apperr.KindTransientDelivery, op, errDo)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperr.Newf(apperr.KindTransientDelivery, op, "gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
