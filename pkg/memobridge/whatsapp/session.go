package whatsapp

import (
	"io"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// State is the lifecycle phase of one user's session.
type State string

const (
	StateConnecting   State = "connecting"
	StateAwaitingCode State = "awaiting_code"
	StateOpen         State = "open"
	StateDisconnected State = "disconnected"
)

// LifecycleType enumerates the events observable through a lifecycle
// subscription.
type LifecycleType string

const (
	// LifecycleCodeIssued carries a fresh pairing code for the user to scan.
	LifecycleCodeIssued LifecycleType = "code_issued"
	LifecycleConnected  LifecycleType = "connected"
	// LifecycleDisconnected carries the reason; Terminal marks the session
	// as gone for good (no automatic reconnect will follow).
	LifecycleDisconnected LifecycleType = "disconnected"
)

// LifecycleEvent is delivered to lifecycle subscribers.
type LifecycleEvent struct {
	Type     LifecycleType
	Code     string
	Reason   string
	Terminal bool
}

// LifecycleFunc receives lifecycle events for one uid. A newly attached
// subscriber immediately receives the current state (connected or a pending
// code) so it never misses what already happened.
type LifecycleFunc func(LifecycleEvent)

// session is the per-uid connection state. All mutation happens under the
// manager's lock or on the client's serialized event-handler path.
type session struct {
	uid    string
	client Client
	// container keeps the per-uid auth database open for the session's
	// lifetime; closed on teardown.
	container io.Closer

	state       State
	pendingCode string
	selfID      string
	selfLID     string

	// retries counts consecutive failed connects; reset to zero on a
	// successful open.
	retries        int
	reconnectTimer *time.Timer
}

func (s *session) selfJID() types.JID {
	return types.JID{User: s.selfID, Server: types.DefaultUserServer}
}

func (s *session) cancelReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}
