// Package bridge is the orchestrator: it wires the session manager, the
// identity reconciler, the saved-contact store, the recap queue, and the
// reminder scheduler, and exposes the operations the HTTP layer and CLI call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/memobridge/pkg/memobridge/config"
	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
	"github.com/jholhewres/memobridge/pkg/memobridge/recap"
	"github.com/jholhewres/memobridge/pkg/memobridge/reminders"
	"github.com/jholhewres/memobridge/pkg/memobridge/whatsapp"
)

// Error taxonomy surfaced to the HTTP layer. ErrContactNotFound and
// ErrContactsNotSynced are deliberately distinct so callers can say "no such
// person" versus "try again shortly".
var (
	ErrUnknownUser       = errors.New("unknown user")
	ErrContactNotFound   = errors.New("no matching contact")
	ErrContactsNotSynced = errors.New("contacts not synced yet")
)

// Bridge is the top-level service object.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	Directory *contacts.Service
	Saved     *contacts.SavedStore
	Sessions  *whatsapp.Manager
	Reminders *reminders.Scheduler

	recapQueue *recap.Queue
}

// New creates a Bridge with all dependencies wired.
func New(cfg *config.Config, logger *slog.Logger) *Bridge {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	directory := contacts.NewService(cfg.SessionsDir(), logger)
	saved := contacts.NewSavedStore(cfg.SessionsDir(), logger)
	sessions := whatsapp.NewManager(cfg.SessionsDir(), cfg.ArchiveDir(), directory, saved, logger)

	b := &Bridge{
		cfg:       cfg,
		logger:    logger,
		Directory: directory,
		Saved:     saved,
		Sessions:  sessions,
		Reminders: reminders.NewScheduler(cfg.RemindersPath(), sessions, logger),
	}
	b.recapQueue = recap.NewQueue(
		time.Duration(cfg.Recap.DebounceMs)*time.Millisecond,
		cfg.Recap.MaxPending,
		b.deliverRecaps,
		logger,
	)
	return b
}

// Start restores persisted sessions and begins the reminder sweep.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Reminders.Start(); err != nil {
		return fmt.Errorf("starting reminders: %w", err)
	}
	b.Sessions.RestoreAll(ctx)
	b.logger.Info("bridge started", "sessions", len(b.Sessions.Sessions()))
	return nil
}

// Stop shuts everything down, leaving persisted state in place.
func (b *Bridge) Stop() {
	b.Reminders.Stop()
	b.Sessions.Shutdown()
	b.logger.Info("bridge stopped")
}

// KnownUser reports whether uid has an active session or persisted auth
// material. Requests for anyone else are rejected outright.
func (b *Bridge) KnownUser(uid string) bool {
	return b.Sessions.Status(uid).State != whatsapp.StateDisconnected || b.Sessions.HasAuth(uid)
}

// DeliverMemory formats a finished-conversation payload and queues it for
// debounced delivery to the user's own thread.
func (b *Bridge) DeliverMemory(uid string, m recap.Memory) error {
	if !b.KnownUser(uid) {
		return ErrUnknownUser
	}
	if !b.Sessions.IsConnected(uid) {
		return whatsapp.ErrNotConnected
	}
	b.recapQueue.Enqueue(uid, recap.Format(m))
	return nil
}

// deliverRecaps is the queue drain callback: one combined message per burst.
func (b *Bridge) deliverRecaps(uid string, texts []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.Sessions.SendToSelf(ctx, uid, recap.Combine(texts)); err != nil {
		b.logger.Error("recap delivery failed", "uid", uid, "recaps", len(texts), "error", err)
	}
}

// SendRecap sends an already-written summary to the user's own thread.
func (b *Bridge) SendRecap(ctx context.Context, uid, summary string) error {
	if !b.KnownUser(uid) {
		return ErrUnknownUser
	}
	return b.Sessions.SendToSelf(ctx, uid, summary)
}

// ResolveContact resolves a free-text name for uid, waiting out a directory
// still syncing after reconnect before giving up.
func (b *Bridge) ResolveContact(ctx context.Context, uid, name string) (*contacts.Match, error) {
	if !b.KnownUser(uid) {
		return nil, ErrUnknownUser
	}
	saved := b.Saved.Get(uid)
	if b.Directory.Count(uid) == 0 {
		retries := b.cfg.Contacts.WaitRetries
		delay := time.Duration(b.cfg.Contacts.WaitDelayMs) * time.Millisecond
		if !b.Directory.WaitForContacts(ctx, uid, retries, delay) {
			// The directory never populated. A saved binding can still
			// resolve, but a miss here means "not synced", not "no such
			// person".
			if match := contacts.FindContact(nil, name, saved); match != nil {
				return match, nil
			}
			return nil, ErrContactsNotSynced
		}
	}
	match := contacts.FindContact(b.Directory.Get(uid), name, saved)
	if match == nil {
		return nil, fmt.Errorf("%w: %q", ErrContactNotFound, name)
	}
	return match, nil
}

// SendToContactByName resolves name and sends message to the match.
func (b *Bridge) SendToContactByName(ctx context.Context, uid, name, message string) (*contacts.Match, error) {
	if !b.Sessions.IsConnected(uid) {
		if !b.KnownUser(uid) {
			return nil, ErrUnknownUser
		}
		return nil, whatsapp.ErrNotConnected
	}
	match, err := b.ResolveContact(ctx, uid, name)
	if err != nil {
		return nil, err
	}
	if err := b.Sessions.SendToContact(ctx, uid, match.ID, message); err != nil {
		return match, err
	}
	b.logger.Info("message sent",
		"uid", uid, "to", match.ID, "matched", match.Name, "tier", match.Tier)
	return match, nil
}

// SetReminder schedules a reminder firing delay minutes from now, targeting
// the user's own thread or a named contact.
func (b *Bridge) SetReminder(ctx context.Context, uid, message string, delayMinutes int, contactName string) (reminders.Reminder, error) {
	if !b.KnownUser(uid) {
		return reminders.Reminder{}, ErrUnknownUser
	}
	if delayMinutes <= 0 {
		delayMinutes = 1
	}
	target := reminders.TargetSelf
	targetName := ""
	if contactName != "" {
		match, err := b.ResolveContact(ctx, uid, contactName)
		if err != nil {
			return reminders.Reminder{}, err
		}
		target = match.ID
		targetName = match.Name
	}
	fireAt := time.Now().Add(time.Duration(delayMinutes) * time.Minute)
	return b.Reminders.Add(uid, message, target, targetName, fireAt)
}

// SaveContact stores a manual name binding. When the session is open the
// phone number is canonicalized through a network existence check first;
// offline, the normalized digits are trusted as-is.
func (b *Bridge) SaveContact(ctx context.Context, uid, name, phone string) (contacts.SavedContact, error) {
	if !b.KnownUser(uid) {
		return contacts.SavedContact{}, ErrUnknownUser
	}
	canonicalID := contacts.NormalizePhone(phone)
	if b.Sessions.IsConnected(uid) {
		exists, resolved, err := b.Sessions.CheckNumberExists(ctx, uid, phone)
		if err != nil {
			b.logger.Warn("existence check failed, saving unverified",
				"uid", uid, "error", err)
		} else if exists {
			canonicalID = resolved
		}
	}
	sc, _, err := b.Saved.Save(uid, name, canonicalID, contacts.SourceManual)
	return sc, err
}

// ImportContacts bulk-imports name/phone pairs into the saved store.
func (b *Bridge) ImportContacts(uid string, entries []contacts.ImportEntry) (contacts.ImportResult, error) {
	if !b.KnownUser(uid) {
		return contacts.ImportResult{}, ErrUnknownUser
	}
	return b.Saved.BulkImport(uid, entries)
}

// DeleteContact removes a saved binding.
func (b *Bridge) DeleteContact(uid, canonicalID string) (bool, error) {
	if !b.KnownUser(uid) {
		return false, ErrUnknownUser
	}
	return b.Saved.Delete(uid, canonicalID)
}

// Config returns the bridge configuration.
func (b *Bridge) Config() *config.Config {
	return b.cfg
}
