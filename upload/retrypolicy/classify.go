// Package retrypolicy decides whether a failed transfer attempt is worth
// repeating and how long to wait before doing so. Classification is based on
// the error text and HTTP status only, so it works the same for worker API
// errors, transport errors and context timeouts.
package retrypolicy

import (
	"strings"
)

// Category is the coarse classification of a single transfer failure.
type Category string

const (
	// CategoryTemporary covers transport-level blips (connection reset, DNS).
	CategoryTemporary Category = "temporary"
	// CategoryPermanent covers errors no retry can fix (auth, bad request).
	CategoryPermanent Category = "permanent"
	// CategoryRateLimit covers explicit throttling by the remote endpoint.
	CategoryRateLimit Category = "rate_limit"
	// CategoryTimeout covers deadline and abort failures.
	CategoryTimeout Category = "timeout"
	// CategoryUnknown is everything else; treated as retryable but without escalation.
	CategoryUnknown Category = "unknown"
)

var temporaryTokens = []string{
	"network",
	"connection",
	"socket",
	"reset",
	"dns",
	"no such host",
	"broken pipe",
	"refused",
}

var timeoutTokens = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"abort",
	"canceled",
}

var rateLimitTokens = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota exceeded",
}

var permanentTokens = []string{
	"not found",
	"unauthorized",
	"forbidden",
	"bad request",
	"invalid",
}

// Classify maps a raw failure to a Category. Token rules win over status code
// rules of a later precedence level; the first matching level wins.
// err may be nil when only a status code is known.
func Classify(err error, statusCode int) Category {
	message := ""
	if err != nil {
		message = strings.ToLower(err.Error())
	}

	if containsAny(message, temporaryTokens) {
		return CategoryTemporary
	}
	if containsAny(message, timeoutTokens) {
		return CategoryTimeout
	}
	if containsAny(message, rateLimitTokens) || statusCode == 429 {
		return CategoryRateLimit
	}
	if containsAny(message, permanentTokens) || isPermanentStatus(statusCode) {
		return CategoryPermanent
	}

	return CategoryUnknown
}

func isPermanentStatus(statusCode int) bool {
	switch statusCode {
	case 400, 401, 403, 404:
		return true
	default:
		return false
	}
}

func containsAny(message string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
