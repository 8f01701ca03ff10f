package bridge

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/memobridge/pkg/memobridge/config"
	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
	"github.com/jholhewres/memobridge/pkg/memobridge/recap"
	"github.com/jholhewres/memobridge/pkg/memobridge/reminders"
	"github.com/jholhewres/memobridge/pkg/memobridge/whatsapp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.Dir = t.TempDir()
	cfg.Contacts.WaitRetries = 0
	cfg.Contacts.WaitDelayMs = 1
	return New(cfg, testLogger())
}

// grantAuth plants persisted auth material so uid counts as a known user
// without a live connection.
func grantAuth(t *testing.T, b *Bridge, uid string) {
	t.Helper()
	dir := filepath.Join(b.cfg.SessionsDir(), uid)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session.db"), []byte("auth"), 0o600))
}

func TestKnownUser(t *testing.T) {
	b := newTestBridge(t)
	assert.False(t, b.KnownUser("stranger"))

	grantAuth(t, b, "u1")
	assert.True(t, b.KnownUser("u1"))
}

func TestDeliverMemoryGating(t *testing.T) {
	b := newTestBridge(t)

	err := b.DeliverMemory("stranger", recap.Memory{})
	assert.ErrorIs(t, err, ErrUnknownUser)

	// Known but not connected: the caller is told to connect, nothing queues.
	grantAuth(t, b, "u1")
	err = b.DeliverMemory("u1", recap.Memory{})
	assert.ErrorIs(t, err, whatsapp.ErrNotConnected)
}

func TestResolveContact(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	_, err := b.ResolveContact(ctx, "stranger", "alice")
	assert.ErrorIs(t, err, ErrUnknownUser)

	grantAuth(t, b, "u1")

	// Nothing synced and nothing saved: reported as still-syncing.
	_, err = b.ResolveContact(ctx, "u1", "alice")
	assert.ErrorIs(t, err, ErrContactsNotSynced)

	b.Directory.Upsert("u1", contacts.Incoming{
		ID: "5511911112222", Name: "Alice Santos", NameTrust: contacts.TrustAddressBook,
	})

	match, err := b.ResolveContact(ctx, "u1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "5511911112222", match.ID)

	_, err = b.ResolveContact(ctx, "u1", "nobody i know")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestResolveContactSavedSkipsWait(t *testing.T) {
	b := newTestBridge(t)
	grantAuth(t, b, "u1")

	// With a saved binding present, an empty directory is no obstacle.
	_, _, err := b.Saved.Save("u1", "Mom", "5511999998888", contacts.SourceManual)
	require.NoError(t, err)

	match, err := b.ResolveContact(context.Background(), "u1", "mom")
	require.NoError(t, err)
	assert.Equal(t, "5511999998888", match.ID)
	assert.Equal(t, "saved", match.Source)

	// A saved miss with the directory still empty is a sync problem, not a
	// missing person.
	_, err = b.ResolveContact(context.Background(), "u1", "alice")
	assert.ErrorIs(t, err, ErrContactsNotSynced)
}

func TestSendRequiresConnection(t *testing.T) {
	b := newTestBridge(t)
	ctx := context.Background()

	_, err := b.SendToContactByName(ctx, "stranger", "alice", "hi")
	assert.ErrorIs(t, err, ErrUnknownUser)

	grantAuth(t, b, "u1")
	_, err = b.SendToContactByName(ctx, "u1", "alice", "hi")
	assert.ErrorIs(t, err, whatsapp.ErrNotConnected)

	err = b.SendRecap(ctx, "u1", "summary")
	assert.ErrorIs(t, err, whatsapp.ErrNotConnected)
}

func TestSaveContactOffline(t *testing.T) {
	b := newTestBridge(t)
	grantAuth(t, b, "u1")

	// Offline save trusts the normalized digits.
	sc, err := b.SaveContact(context.Background(), "u1", "Mom", "+55 (11) 99999-8888")
	require.NoError(t, err)
	assert.Equal(t, "5511999998888", sc.ID)
	assert.Equal(t, contacts.SourceManual, sc.Source)

	_, err = b.SaveContact(context.Background(), "stranger", "Mom", "5511999998888")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestImportAndDeleteContacts(t *testing.T) {
	b := newTestBridge(t)
	grantAuth(t, b, "u1")

	res, err := b.ImportContacts("u1", []contacts.ImportEntry{
		{Name: "Alice", Phone: "5511911112222"},
		{Name: "", Phone: "5511933334444"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	assert.Equal(t, 1, res.Invalid)

	deleted, err := b.DeleteContact("u1", "5511911112222")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = b.ImportContacts("stranger", nil)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestSetReminder(t *testing.T) {
	b := newTestBridge(t)
	grantAuth(t, b, "u1")
	ctx := context.Background()

	r, err := b.SetReminder(ctx, "u1", "water plants", 0, "")
	require.NoError(t, err)
	assert.Equal(t, reminders.TargetSelf, r.Target)
	assert.False(t, r.FireAt.IsZero(), "zero delay is clamped to one minute")

	// Targeting a contact goes through name resolution.
	b.Directory.Upsert("u1", contacts.Incoming{
		ID: "5511911112222", Name: "Alice", NameTrust: contacts.TrustAddressBook,
	})
	r, err = b.SetReminder(ctx, "u1", "call her", 5, "alice")
	require.NoError(t, err)
	assert.Equal(t, "5511911112222", r.Target)
	assert.Equal(t, "Alice", r.TargetName)

	_, err = b.SetReminder(ctx, "stranger", "x", 1, "")
	assert.ErrorIs(t, err, ErrUnknownUser)
}
