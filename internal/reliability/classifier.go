package reliability

import "strings"

// Failure kinds reported for upstream realtime errors.
const (
	KindAuth           = "auth"
	KindRateLimited    = "rate_limited"
	KindServer         = "server"
	KindInvalidRequest = "invalid_request"
	KindNetwork        = "network"
	KindUnknown        = "unknown"
)

// ClassifyHTTPStatus maps a handshake response status to a failure kind.
func ClassifyHTTPStatus(code int) string {
	switch {
	case code == 401 || code == 403:
		return KindAuth
	case code == 429:
		return KindRateLimited
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// ClassifyRealtimeError maps an in-band realtime error event to a failure kind.
func ClassifyRealtimeError(errType, code string) string {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "rate_limit_exceeded", "rate_limited", "resource_exhausted":
		return KindRateLimited
	case "invalid_api_key", "insufficient_quota":
		return KindAuth
	}
	switch strings.ToLower(strings.TrimSpace(errType)) {
	case "authentication_error", "permission_error":
		return KindAuth
	case "server_error":
		return KindServer
	case "invalid_request_error":
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether a fresh user-initiated connect is likely to succeed.
func IsRetryable(kind string) bool {
	switch kind {
	case KindRateLimited, KindServer, KindNetwork:
		return true
	default:
		return false
	}
}
