package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotConnected is returned when an operation needs an open session that
// does not exist. Callers surface it as a retryable-by-user condition.
var ErrNotConnected = errors.New("no open session for user")

// Manager owns exactly one authenticated connection per uid. Auth material
// lives in sessions/{uid}/session.db; lifecycle failures are handled
// internally (backoff or give-up) and observable only through lifecycle
// subscriptions, while per-call failures surface to the immediate caller.
type Manager struct {
	root        string
	archiveRoot string
	logger      *slog.Logger
	directory   *contacts.Service
	saved       *contacts.SavedStore

	// openDevice and newClient are swapped out in tests to run the state
	// machine against a fake transport.
	openDevice func(ctx context.Context, uid string) (*store.Device, io.Closer, error)
	newClient  func(device *store.Device, logger waLog.Logger) Client

	mu        sync.Mutex
	sessions  map[string]*session
	listeners map[string][]LifecycleFunc
}

// SessionStatus is a point-in-time view of one uid's session.
type SessionStatus struct {
	UID       string `json:"uid"`
	State     State  `json:"state"`
	Connected bool   `json:"connected"`
}

// NewManager creates a session manager rooted at the sessions directory.
func NewManager(root, archiveRoot string, directory *contacts.Service, saved *contacts.SavedStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		root:        root,
		archiveRoot: archiveRoot,
		logger:      logger.With("component", "whatsapp"),
		directory:   directory,
		saved:       saved,
		newClient:   newMeowClient,
		sessions:    make(map[string]*session),
		listeners:   make(map[string][]LifecycleFunc),
	}
	m.openDevice = m.openSQLDevice
	return m
}

func (m *Manager) authDBPath(uid string) string {
	return filepath.Join(m.root, uid, "session.db")
}

// HasAuth reports whether persisted auth material exists for uid.
func (m *Manager) HasAuth(uid string) bool {
	_, err := os.Stat(m.authDBPath(uid))
	return err == nil
}

// openSQLDevice opens (or creates) the per-uid auth container.
func (m *Manager) openSQLDevice(ctx context.Context, uid string) (*store.Device, io.Closer, error) {
	dir := filepath.Join(m.root, uid)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("ensure session dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", m.authDBPath(uid))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, newWALog(m.logger.With("uid", uid, "module", "sqlstore")))
	if err != nil {
		return nil, nil, fmt.Errorf("open auth store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("load device: %w", err)
	}
	return device, container, nil
}

// Connect establishes uid's session. Idempotent: an existing session is left
// alone. Returns once the connection attempt is underway; completion (pairing
// code, open, failure) arrives through lifecycle events.
func (m *Manager) Connect(ctx context.Context, uid string) error {
	m.mu.Lock()
	if _, ok := m.sessions[uid]; ok {
		m.mu.Unlock()
		return nil
	}
	s := &session{uid: uid, state: StateConnecting}
	m.sessions[uid] = s
	m.mu.Unlock()

	device, container, err := m.openDevice(ctx, uid)
	if err != nil {
		m.removeSession(uid)
		return err
	}
	cli := m.newClient(device, newWALog(m.logger.With("uid", uid)))

	m.mu.Lock()
	s.client = cli
	s.container = container
	if id := cli.SelfID(); id != nil {
		s.selfID = id.User
		s.selfLID = cli.SelfLID().User
	}
	m.mu.Unlock()

	cli.AddEventHandler(func(evt any) {
		m.handleEvent(uid, evt)
	})

	// Unpaired device: consume the QR channel so each rotated code reaches
	// lifecycle subscribers. Must be requested before Connect.
	if cli.SelfID() == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			m.logger.Warn("qr channel unavailable", "uid", uid, "error", err)
		} else {
			go m.consumeQR(uid, s, qrChan)
		}
	}

	if err := cli.Connect(); err != nil {
		m.teardown(uid, "connect failed: "+err.Error(), false)
		return fmt.Errorf("connect %s: %w", uid, err)
	}
	m.logger.Info("session connecting", "uid", uid)
	return nil
}

// consumeQR forwards pairing codes from the transport to lifecycle listeners.
func (m *Manager) consumeQR(uid string, s *session, ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			m.mu.Lock()
			s.state = StateAwaitingCode
			s.pendingCode = item.Code
			m.mu.Unlock()
			m.logger.Info("pairing code issued", "uid", uid)
			m.emit(uid, LifecycleEvent{Type: LifecycleCodeIssued, Code: item.Code})
		case "success":
			// The Connected event carries the rest.
		default:
			m.logger.Warn("pairing ended without success", "uid", uid, "event", item.Event)
			m.teardown(uid, "pairing_"+item.Event, false)
			return
		}
	}
}

func (m *Manager) session(uid string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[uid]
}

func (m *Manager) removeSession(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, uid)
}

// IsConnected reports whether uid has an open, authenticated session.
func (m *Manager) IsConnected(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	return ok && s.state == StateOpen
}

// Status returns uid's session state, or StateDisconnected when none exists.
func (m *Manager) Status(uid string) SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	if !ok {
		return SessionStatus{UID: uid, State: StateDisconnected}
	}
	return SessionStatus{UID: uid, State: s.state, Connected: s.state == StateOpen}
}

// PendingCode returns the pairing code awaiting scan, if any.
func (m *Manager) PendingCode(uid string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[uid]; ok {
		return s.pendingCode
	}
	return ""
}

// Sessions lists the status of every active session.
func (m *Manager) Sessions() []SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionStatus, 0, len(m.sessions))
	for uid, s := range m.sessions {
		out = append(out, SessionStatus{UID: uid, State: s.state, Connected: s.state == StateOpen})
	}
	return out
}

func textMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// openSession returns uid's session if it is open, or ErrNotConnected.
func (m *Manager) openSession(uid string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	if !ok || s.state != StateOpen {
		return nil, ErrNotConnected
	}
	return s, nil
}

// SendToSelf delivers text to the user's own chat thread. Resolves when the
// transport acknowledges submission, not delivery.
func (m *Manager) SendToSelf(ctx context.Context, uid, text string) error {
	s, err := m.openSession(uid)
	if err != nil {
		return err
	}
	if _, err := s.client.SendMessage(ctx, s.selfJID(), textMessage(text)); err != nil {
		return fmt.Errorf("send to self: %w", err)
	}
	return nil
}

// SendToContact delivers text to the chat identified by the canonical id.
func (m *Manager) SendToContact(ctx context.Context, uid, canonicalID, text string) error {
	s, err := m.openSession(uid)
	if err != nil {
		return err
	}
	to := types.JID{User: contacts.NormalizePhone(canonicalID), Server: types.DefaultUserServer}
	if _, err := s.client.SendMessage(ctx, to, textMessage(text)); err != nil {
		return fmt.Errorf("send to %s: %w", canonicalID, err)
	}
	return nil
}

// CheckNumberExists asks the network whether a phone number is registered,
// returning its canonical id when it is.
func (m *Manager) CheckNumberExists(ctx context.Context, uid, phone string) (bool, string, error) {
	s, err := m.openSession(uid)
	if err != nil {
		return false, "", err
	}
	digits := contacts.NormalizePhone(phone)
	if digits == "" {
		return false, "", fmt.Errorf("phone number has no digits")
	}
	resp, err := s.client.IsOnWhatsApp(ctx, []string{"+" + digits})
	if err != nil {
		return false, "", fmt.Errorf("number lookup: %w", err)
	}
	for _, r := range resp {
		if r.IsIn {
			return true, r.JID.User, nil
		}
	}
	return false, "", nil
}

// RequestHistorySync asks the primary device for older history. Fire and
// forget: results arrive through the normal event path and are merged by the
// reconciler like any other observation.
func (m *Manager) RequestHistorySync(ctx context.Context, uid string, count int) error {
	s, err := m.openSession(uid)
	if err != nil {
		return err
	}
	if count <= 0 {
		count = 50
	}
	msg := s.client.BuildHistorySyncRequest(nil, count)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.client.SendMessage(sendCtx, s.selfJID(), msg, whatsmeow.SendRequestExtra{Peer: true}); err != nil {
			m.logger.Warn("history sync request failed", "uid", uid, "error", err)
		}
	}()
	return nil
}

// SubscribeToLifecycle registers a listener for uid and immediately replays
// the current state so a late subscriber never misses it.
func (m *Manager) SubscribeToLifecycle(uid string, fn LifecycleFunc) {
	m.mu.Lock()
	m.listeners[uid] = append(m.listeners[uid], fn)
	var replay *LifecycleEvent
	if s, ok := m.sessions[uid]; ok {
		switch {
		case s.state == StateOpen:
			replay = &LifecycleEvent{Type: LifecycleConnected}
		case s.pendingCode != "":
			replay = &LifecycleEvent{Type: LifecycleCodeIssued, Code: s.pendingCode}
		}
	}
	m.mu.Unlock()
	if replay != nil {
		safeNotify(m.logger, uid, fn, *replay)
	}
}

func (m *Manager) emit(uid string, ev LifecycleEvent) {
	m.mu.Lock()
	fns := make([]LifecycleFunc, len(m.listeners[uid]))
	copy(fns, m.listeners[uid])
	m.mu.Unlock()
	for _, fn := range fns {
		safeNotify(m.logger, uid, fn, ev)
	}
}

// safeNotify keeps one misbehaving subscriber from killing the event path.
func safeNotify(logger *slog.Logger, uid string, fn LifecycleFunc, ev LifecycleEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("lifecycle listener panicked", "uid", uid, "panic", r)
		}
	}()
	fn(ev)
}

// Logout is the explicit, user-initiated teardown: archive contact data,
// invalidate remote and local auth material, and delete the session so the
// next connect starts a fresh pairing.
func (m *Manager) Logout(ctx context.Context, uid string) error {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	if ok {
		s.cancelReconnect()
		delete(m.sessions, uid)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	if _, err := contacts.ArchiveUser(m.root, m.archiveRoot, uid, "logout", m.logger); err != nil {
		// Archival failure aborts: never destroy user-authored data without
		// a preserved copy.
		m.mu.Lock()
		m.sessions[uid] = s
		m.mu.Unlock()
		return fmt.Errorf("archive before logout: %w", err)
	}

	if err := s.client.Logout(ctx); err != nil {
		m.logger.Warn("remote logout failed, deleting device locally", "uid", uid, "error", err)
		if err := s.client.DeleteDevice(ctx); err != nil {
			m.logger.Error("device delete failed", "uid", uid, "error", err)
		}
		s.client.Disconnect()
	}
	if s.container != nil {
		s.container.Close()
	}
	if err := os.RemoveAll(filepath.Join(m.root, uid)); err != nil {
		m.logger.Error("session dir cleanup failed", "uid", uid, "error", err)
	}
	m.directory.Forget(uid)
	m.saved.Forget(uid)

	m.logger.Info("session logged out", "uid", uid)
	m.emit(uid, LifecycleEvent{Type: LifecycleDisconnected, Reason: "logout", Terminal: true})
	return nil
}

// teardown removes a session after a terminal failure. wipeAuth additionally
// clears the persisted auth material (used for the remote logged-out case),
// archiving contact data first; the directory files themselves stay in place.
func (m *Manager) teardown(uid, reason string, wipeAuth bool) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	if ok {
		s.cancelReconnect()
		delete(m.sessions, uid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	if wipeAuth {
		if _, err := contacts.ArchiveUser(m.root, m.archiveRoot, uid, reason, m.logger); err != nil {
			m.logger.Error("archive before auth wipe failed", "uid", uid, "error", err)
		}
	}
	s.client.Disconnect()
	if s.container != nil {
		s.container.Close()
	}
	if wipeAuth {
		if err := os.Remove(m.authDBPath(uid)); err != nil && !os.IsNotExist(err) {
			m.logger.Error("auth wipe failed", "uid", uid, "error", err)
		}
	}

	m.logger.Info("session terminated", "uid", uid, "reason", reason, "auth_wiped", wipeAuth)
	m.emit(uid, LifecycleEvent{Type: LifecycleDisconnected, Reason: reason, Terminal: true})
}

// scheduleReconnect arms the backoff timer after a retriable disconnect.
// Called with m.mu held.
func (m *Manager) scheduleReconnect(s *session) {
	s.retries++
	if s.retries > maxReconnectAttempts {
		uid := s.uid
		go m.teardown(uid, "retries_exhausted", false)
		return
	}
	delay := NextDelay(s.retries)
	s.state = StateConnecting
	m.logger.Info("reconnect scheduled",
		"uid", s.uid, "attempt", s.retries, "delay", delay.String())
	s.reconnectTimer = time.AfterFunc(delay, func() {
		if err := s.client.Connect(); err != nil {
			m.logger.Warn("reconnect attempt failed", "uid", s.uid, "error", err)
			m.mu.Lock()
			if _, alive := m.sessions[s.uid]; alive {
				m.scheduleReconnect(s)
			}
			m.mu.Unlock()
		}
	})
}

// RestoreAll loads the cached directory and re-establishes the session for
// every uid with persisted auth material. The cache load happens before the
// connect so a restart never presents an empty directory to callers.
func (m *Manager) RestoreAll(ctx context.Context) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Error("session scan failed", "root", m.root, "error", err)
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		uid := e.Name()
		if !m.HasAuth(uid) {
			continue
		}
		if err := m.directory.Load(uid); err != nil {
			m.logger.Error("directory cache load failed", "uid", uid, "error", err)
		}
		if err := m.Connect(ctx, uid); err != nil {
			m.logger.Error("session restore failed", "uid", uid, "error", err)
		} else {
			m.logger.Info("session restored", "uid", uid, "contacts", m.directory.Count(uid))
		}
	}
}

// Shutdown disconnects every session without touching auth material.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.cancelReconnect()
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.client != nil {
			s.client.Disconnect()
		}
		if s.container != nil {
			s.container.Close()
		}
	}
}
