package notify

import (
	"context"
	"strings"

	"github.com/betzim/mediameter/internal/retry"
	log "github.com/sirupsen/logrus"
)

// Sender retries gateway delivery under a backoff policy.
type Sender struct {
	gateway Gateway
	policy  retry.Policy
}

// NewSender wraps gateway with policy.
func NewSender(gateway Gateway, policy retry.Policy) *Sender {
	return &Sender{gateway: gateway, policy: policy}
}

// Send delivers text to recipient and reports whether any attempt succeeded.
// Exhausted retries are logged, never returned.
func (s *Sender) Send(ctx context.Context, recipient, text string) bool {
	if s == nil || s.gateway == nil {
		log.WithField("recipient", recipient).Warn("notify: sender not configured, message dropped")
		return false
	}
	if strings.TrimSpace(recipient) == "" || strings.TrimSpace(text) == "" {
		log.WithField("recipient", recipient).Warn("notify: empty recipient or body, message dropped")
		return false
	}

	errSend := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		errAttempt := s.gateway.SendText(ctx, recipient, text)
		fields := log.Fields{"recipient": recipient, "attempt": attempt}
		if errAttempt != nil {
			log.WithFields(fields).WithError(errAttempt).Warn("notify: delivery attempt failed")
			return errAttempt
		}
		log.WithFields(fields).Debug("notify: delivered")
		return nil
	})
	if errSend != nil {
		log.WithField("recipient", recipient).WithError(errSend).Error("notify: delivery failed after retries")
		return false
	}
	return true
}
