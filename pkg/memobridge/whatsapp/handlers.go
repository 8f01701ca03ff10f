package whatsapp

import (
	"context"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
)

// jidKey converts a transport JID into the directory's key form: bare phone
// digits for canonical ids, "<user>@lid" for the linked-id namespace, and the
// full JID string for everything else (groups, broadcast) so the placeholder
// filter catches them.
func jidKey(j types.JID) string {
	j = j.ToNonAD()
	switch j.Server {
	case types.DefaultUserServer:
		return j.User
	case types.HiddenUserServer:
		return j.User + "@lid"
	default:
		return j.String()
	}
}

// handleEvent is the single dispatch point for one uid's raw network events.
// The transport serializes delivery per connection, so handlers for the same
// uid never run concurrently with each other. Nothing here is allowed to
// panic the process; reconciliation failures are logged and dropped.
func (m *Manager) handleEvent(uid string, evt any) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", "uid", uid, "panic", r)
		}
	}()

	switch e := evt.(type) {
	case *events.Connected:
		m.handleConnected(uid)

	case *events.PairSuccess:
		m.handlePairSuccess(uid, e)

	case *events.Disconnected:
		m.handleDisconnected(uid)

	case *events.LoggedOut:
		code := int(e.Reason)
		m.logger.Warn("remote logged out", "uid", uid, "code", code, "on_connect", e.OnConnect)
		m.teardown(uid, fmt.Sprintf("logged_out(%d)", code), WipesAuth(code))

	case *events.StreamReplaced:
		m.teardown(uid, "stream_replaced", false)

	case *events.ClientOutdated:
		m.teardown(uid, "client_outdated", false)

	case *events.TemporaryBan:
		m.teardown(uid, fmt.Sprintf("temporary_ban(%v)", e.Code), false)

	case *events.Contact:
		m.handleContact(uid, e)

	case *events.PushName:
		m.directory.Upsert(uid, contacts.Incoming{
			ID:       jidKey(e.JID),
			PushName: e.NewPushName,
		})

	case *events.BusinessName:
		m.directory.Upsert(uid, contacts.Incoming{
			ID:           jidKey(e.JID),
			BusinessName: e.NewBusinessName,
		})

	case *events.Message:
		m.handleMessage(uid, e)

	case *events.HistorySync:
		m.handleHistorySync(uid, e)
	}
}

func (m *Manager) handleConnected(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.retries = 0
	s.pendingCode = ""
	s.cancelReconnect()
	if id := s.client.SelfID(); id != nil {
		s.selfID = id.User
		if lid := s.client.SelfLID(); !lid.IsEmpty() {
			s.selfLID = lid.User
		}
	}
	selfID, selfLID := s.selfID, s.selfLID
	m.mu.Unlock()

	if selfID != "" && selfLID != "" {
		m.directory.RecordMapping(uid, selfLID+"@lid", selfID)
	}
	m.logger.Info("session open", "uid", uid, "self", selfID)
	m.emit(uid, LifecycleEvent{Type: LifecycleConnected})

	go m.primarySync(uid)
}

func (m *Manager) handlePairSuccess(uid string, e *events.PairSuccess) {
	m.mu.Lock()
	if s, ok := m.sessions[uid]; ok {
		s.selfID = e.ID.User
		if !e.LID.IsEmpty() {
			s.selfLID = e.LID.User
		}
		s.pendingCode = ""
	}
	m.mu.Unlock()
	m.logger.Info("pairing complete", "uid", uid, "self", e.ID.User)
}

func (m *Manager) handleDisconnected(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	if ok {
		s.state = StateDisconnected
		m.scheduleReconnect(s)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.emit(uid, LifecycleEvent{Type: LifecycleDisconnected, Reason: "connection_lost"})
}

func (m *Manager) handleContact(uid string, e *events.Contact) {
	name := e.Action.GetFullName()
	if name == "" {
		name = e.Action.GetFirstName()
	}
	m.directory.Upsert(uid, contacts.Incoming{
		ID:        jidKey(e.JID),
		Name:      name,
		NameTrust: contacts.TrustAddressBook,
	})
}

// handleMessage mines the envelope: when the sender appears in both
// identifier namespaces at once, that teaches the reconciler a mapping, and
// the sender's push name fills profile-name gaps.
func (m *Manager) handleMessage(uid string, e *events.Message) {
	info := e.Info
	if info.IsFromMe {
		return
	}

	var canonical, lid string
	for _, j := range []types.JID{info.Sender, info.SenderAlt} {
		switch j.ToNonAD().Server {
		case types.DefaultUserServer:
			canonical = j.ToNonAD().User
		case types.HiddenUserServer:
			lid = j.ToNonAD().User + "@lid"
		}
	}
	if canonical != "" && lid != "" {
		m.directory.RecordMapping(uid, lid, canonical)
	}
	if info.PushName == "" {
		return
	}
	id := canonical
	if id == "" {
		id = lid
	}
	if id != "" {
		m.directory.Upsert(uid, contacts.Incoming{ID: id, PushName: info.PushName})
	}
}

// handleHistorySync runs the enrichment passes over a history batch: chat
// display names carry address-book-equivalent trust but only fill gaps, and
// batch push names carry profile trust.
func (m *Manager) handleHistorySync(uid string, e *events.HistorySync) {
	data := e.Data
	if data == nil {
		return
	}
	placed := 0
	for _, conv := range data.GetConversations() {
		j, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		name := conv.GetName()
		if name == "" {
			continue
		}
		if m.directory.Upsert(uid, contacts.Incoming{
			ID:        jidKey(j),
			Name:      name,
			NameTrust: contacts.TrustChatMeta,
		}) {
			placed++
		}
	}
	for _, pn := range data.GetPushnames() {
		j, err := types.ParseJID(pn.GetID())
		if err != nil {
			continue
		}
		if m.directory.Upsert(uid, contacts.Incoming{
			ID:       jidKey(j),
			PushName: pn.GetPushname(),
		}) {
			placed++
		}
	}
	m.logger.Debug("history batch reconciled",
		"uid", uid, "type", data.GetSyncType().String(), "placed", placed)
	if placed > 0 {
		if err := m.directory.Flush(uid); err != nil {
			m.logger.Error("directory persist failed after history batch", "uid", uid, "error", err)
		}
	}
}

// primarySync pulls the transport's own contact store after the session
// opens and feeds every entry through the reconciler, then persists the
// batch. Runs off the event path.
func (m *Manager) primarySync(uid string) {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	if !ok {
		m.mu.Unlock()
		return
	}
	cli := s.client
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	all, err := cli.AllContacts(ctx)
	if err != nil {
		m.logger.Error("primary contact sync failed", "uid", uid, "error", err)
		return
	}
	for jid, info := range all {
		if !info.Found {
			continue
		}
		name := info.FullName
		if name == "" {
			name = info.FirstName
		}
		m.directory.Upsert(uid, contacts.Incoming{
			ID:           jidKey(jid),
			Name:         name,
			NameTrust:    contacts.TrustAddressBook,
			PushName:     info.PushName,
			BusinessName: info.BusinessName,
		})
	}
	if err := m.directory.Flush(uid); err != nil {
		m.logger.Error("directory persist failed after primary sync", "uid", uid, "error", err)
	}
	m.logger.Info("primary contact sync complete", "uid", uid, "contacts", m.directory.Count(uid))
}
