// Package whatsapp owns one long-lived authenticated WhatsApp connection per
// user account, surfacing lifecycle events, outbound sends, and the raw
// contact stream consumed by the identity reconciler.
package whatsapp

import "time"

const (
	// backoffBase is the delay before the first reconnect attempt.
	backoffBase = 2 * time.Second
	// backoffCap bounds the exponential growth.
	backoffCap = 60 * time.Second
	// maxReconnectAttempts is the retry budget after which a session is
	// abandoned and must be manually re-initiated.
	maxReconnectAttempts = 5
)

// NextDelay returns the reconnect delay for the given consecutive-failure
// attempt (1-based): 2s, 4s, 8s, ... capped at 60s.
func NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// IsTerminalCode reports whether a remote connect-failure code means the
// session can never recover by reconnecting: the credentials were invalidated
// (401 logged out, 403 banned) or the client/registration was rejected
// outright (402, 405 outdated, 406). Everything else is retriable.
func IsTerminalCode(code int) bool {
	switch code {
	case 401, 402, 403, 405, 406:
		return true
	}
	return false
}

// WipesAuth reports whether the failure code means the persisted auth
// material is dead and must be cleared so the next connect issues a fresh
// pairing code. Only the remote logged-out case qualifies; other terminal
// codes keep the material for diagnosis.
func WipesAuth(code int) bool {
	return code == 401
}
