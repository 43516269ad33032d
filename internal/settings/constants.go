package settings

import "time"

// Runtime defaults shared by config loading and the components they configure.
const (
	// DefaultRateLimit is the fallback inbound messages per window per phone (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitWindow is the fixed counting window for inbound messages.
	DefaultRateLimitWindow = time.Second
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "mediameter:rl"
	// DefaultLowBalanceThreshold is the remaining-minutes level that triggers the top-up hint.
	DefaultLowBalanceThreshold = 2
	// PurchaseURL is where users buy more minutes, units or subscription months.
	PurchaseURL = "www.betzim.com"
)
