// Package reminders keeps a persistent list of one-shot reminders and
// delivers them through the session manager when they come due.
package reminders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TargetSelf addresses a reminder to the user's own chat thread; any other
// target value is a canonical contact id.
const TargetSelf = "self"

// sweepSpec is how often due reminders are checked.
const sweepSpec = "@every 30s"

// Reminder is one scheduled delivery.
type Reminder struct {
	ID         string    `json:"id"`
	UID        string    `json:"uid"`
	Message    string    `json:"message"`
	Target     string    `json:"target"`
	TargetName string    `json:"targetName,omitempty"`
	FireAt     time.Time `json:"fireAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Sender is the slice of the session manager reminders need.
type Sender interface {
	SendToSelf(ctx context.Context, uid, text string) error
	SendToContact(ctx context.Context, uid, canonicalID, text string) error
}

// Scheduler persists reminders to one JSON file and sweeps for due ones on a
// cron cadence. A reminder that cannot be delivered (session down) stays in
// the list and is retried on the next sweep.
type Scheduler struct {
	path   string
	sender Sender
	logger *slog.Logger
	cron   *cron.Cron

	mu        sync.Mutex
	reminders map[string]Reminder
}

type remindersFile struct {
	Reminders map[string]Reminder `json:"reminders"`
}

// NewScheduler creates a scheduler storing its list at path.
func NewScheduler(path string, sender Sender, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		path:      path,
		sender:    sender,
		logger:    logger.With("component", "reminders"),
		cron:      cron.New(),
		reminders: make(map[string]Reminder),
	}
}

// Start loads persisted reminders and begins sweeping.
func (s *Scheduler) Start() error {
	if err := s.load(); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(sweepSpec, s.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "pending", len(s.reminders))
	return nil
}

// Stop halts the sweeper; pending reminders stay on disk.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Add schedules a reminder and persists immediately.
func (s *Scheduler) Add(uid, message, target, targetName string, fireAt time.Time) (Reminder, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Reminder{}, errors.New("reminder message is required")
	}
	if target == "" {
		target = TargetSelf
	}
	r := Reminder{
		ID:         uuid.NewString(),
		UID:        uid,
		Message:    message,
		Target:     target,
		TargetName: targetName,
		FireAt:     fireAt.UTC(),
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.reminders[r.ID] = r
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return r, err
	}
	s.logger.Info("reminder scheduled",
		"uid", uid, "id", r.ID, "target", target, "fire_at", r.FireAt)
	return r, nil
}

// List returns uid's pending reminders ordered by fire time.
func (s *Scheduler) List(uid string) []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0)
	for _, r := range s.reminders {
		if r.UID == uid {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

// Cancel removes a reminder by id.
func (s *Scheduler) Cancel(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return false, nil
	}
	delete(s.reminders, id)
	return true, s.persistLocked()
}

// sweep delivers everything due. Runs on the cron goroutine.
func (s *Scheduler) sweep() {
	now := time.Now()
	s.mu.Lock()
	due := make([]Reminder, 0)
	for _, r := range s.reminders {
		if !r.FireAt.After(now) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		if err := s.deliver(r); err != nil {
			s.logger.Warn("reminder delivery failed, will retry",
				"id", r.ID, "uid", r.UID, "error", err)
			continue
		}
		s.mu.Lock()
		delete(s.reminders, r.ID)
		if err := s.persistLocked(); err != nil {
			s.logger.Error("reminder persist failed", "error", err)
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) deliver(r Reminder) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if r.Target == TargetSelf {
		return s.sender.SendToSelf(ctx, r.UID, "Reminder: "+r.Message)
	}
	return s.sender.SendToContact(ctx, r.UID, r.Target, "Reminder: "+r.Message)
}

func (s *Scheduler) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read reminders: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var file remindersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode reminders: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range file.Reminders {
		s.reminders[id] = r
	}
	return nil
}

func (s *Scheduler) persistLocked() error {
	file := remindersFile{Reminders: s.reminders}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode reminders: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write reminders: %w", err)
	}
	return os.Rename(tmp, s.path)
}
