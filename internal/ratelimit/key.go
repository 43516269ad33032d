package ratelimit

import "github.com/betzim/mediameter/internal/quota"

// KeyForPhone builds the limiter key for an inbound sender.
// Returns "" when the sender has no digits, which disables the check.
func KeyForPhone(raw string) string {
	phone := quota.NormalizePhone(raw)
	if phone == "" {
		return ""
	}
	return "p:" + phone
}
