package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu      sync.Mutex
	selfMsg []string
	sent    map[string][]string // canonicalID -> texts
	fail    bool
}

func (f *fakeSender) SendToSelf(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("session down")
	}
	f.selfMsg = append(f.selfMsg, text)
	return nil
}

func (f *fakeSender) SendToContact(_ context.Context, _ string, canonicalID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("session down")
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[canonicalID] = append(f.sent[canonicalID], text)
	return nil
}

func newTestScheduler(t *testing.T, sender Sender) *Scheduler {
	t.Helper()
	return NewScheduler(filepath.Join(t.TempDir(), "reminders.json"), sender, testLogger())
}

func TestAddAndList(t *testing.T) {
	s := newTestScheduler(t, &fakeSender{})

	later := time.Now().Add(time.Hour)
	sooner := time.Now().Add(time.Minute)

	r1, err := s.Add("u1", "water the plants", "", "", later)
	require.NoError(t, err)
	assert.NotEmpty(t, r1.ID)
	assert.Equal(t, TargetSelf, r1.Target, "empty target defaults to self")

	_, err = s.Add("u1", "call alice", "5511911112222", "Alice", sooner)
	require.NoError(t, err)
	_, err = s.Add("u2", "other user", "", "", sooner)
	require.NoError(t, err)

	list := s.List("u1")
	require.Len(t, list, 2)
	assert.Equal(t, "call alice", list[0].Message, "ordered by fire time")
	assert.Equal(t, "water the plants", list[1].Message)

	_, err = s.Add("u1", "   ", "", "", later)
	assert.Error(t, err, "blank message rejected")
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(t, &fakeSender{})
	r, err := s.Add("u1", "x", "", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	ok, err := s.Cancel(r.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, s.List("u1"))

	ok, err = s.Cancel(r.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepDeliversDue(t *testing.T) {
	sender := &fakeSender{}
	s := newTestScheduler(t, sender)

	_, err := s.Add("u1", "past due", "", "", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Add("u1", "to alice", "5511911112222", "Alice", time.Now().Add(-time.Second))
	require.NoError(t, err)
	_, err = s.Add("u1", "future", "", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	s.sweep()

	sender.mu.Lock()
	assert.Equal(t, []string{"Reminder: past due"}, sender.selfMsg)
	assert.Equal(t, []string{"Reminder: to alice"}, sender.sent["5511911112222"])
	sender.mu.Unlock()

	list := s.List("u1")
	require.Len(t, list, 1, "delivered reminders are removed")
	assert.Equal(t, "future", list[0].Message)
}

func TestSweepRetriesOnFailure(t *testing.T) {
	sender := &fakeSender{fail: true}
	s := newTestScheduler(t, sender)

	_, err := s.Add("u1", "keep me", "", "", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	s.sweep()
	require.Len(t, s.List("u1"), 1, "undeliverable reminder stays for the next sweep")

	sender.mu.Lock()
	sender.fail = false
	sender.mu.Unlock()

	s.sweep()
	assert.Empty(t, s.List("u1"))
	sender.mu.Lock()
	assert.Equal(t, []string{"Reminder: keep me"}, sender.selfMsg)
	sender.mu.Unlock()
}

func TestPersistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	s := NewScheduler(path, &fakeSender{}, testLogger())
	_, err := s.Add("u1", "survive restart", "", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	restarted := NewScheduler(path, &fakeSender{}, testLogger())
	require.NoError(t, restarted.load())

	list := restarted.List("u1")
	require.Len(t, list, 1)
	assert.Equal(t, "survive restart", list[0].Message)
}
