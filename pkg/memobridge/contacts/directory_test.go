package contacts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpsertCanonical(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())

	placed := svc.Upsert("u1", Incoming{ID: "5511999998888", Name: "Alice", NameTrust: TrustAddressBook})
	require.True(t, placed)

	rec, ok := svc.Lookup("u1", "5511999998888")
	require.True(t, ok)
	assert.Equal(t, "Alice", rec.Name)
	assert.Equal(t, 1, svc.Count("u1"))

	// Re-applying the same observation changes nothing.
	svc.Upsert("u1", Incoming{ID: "5511999998888", Name: "Alice", NameTrust: TrustAddressBook})
	assert.Equal(t, 1, svc.Count("u1"))
}

func TestUpsertRejectsPlaceholders(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())

	assert.False(t, svc.Upsert("u1", Incoming{ID: "123456-789@g.us", Name: "Group"}))
	assert.False(t, svc.Upsert("u1", Incoming{ID: "status@broadcast", Name: "Status"}))
	assert.False(t, svc.Upsert("u1", Incoming{ID: ""}))
	assert.Equal(t, 0, svc.Count("u1"))
}

func TestLinkedIDPlacement(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())

	// A linked-id observation with no known mapping is dropped, not stored.
	assert.False(t, svc.Upsert("u1", Incoming{ID: "9AB8F@lid", Name: "Bob", NameTrust: TrustAddressBook}))
	assert.Equal(t, 0, svc.Count("u1"))

	// An observation carrying both namespaces teaches the mapping.
	require.True(t, svc.Upsert("u1", Incoming{ID: "5511988887777", LID: "9AB8F@lid"}))
	canonical, ok := svc.ResolveLID("u1", "9AB8F@lid")
	require.True(t, ok)
	assert.Equal(t, "5511988887777", canonical)

	// The same linked-id observation now lands on the canonical record.
	require.True(t, svc.Upsert("u1", Incoming{ID: "9AB8F@lid", Name: "Bob", NameTrust: TrustAddressBook}))
	assert.Equal(t, 1, svc.Count("u1"))

	rec, ok := svc.Lookup("u1", "5511988887777")
	require.True(t, ok)
	assert.Equal(t, "Bob", rec.Name)
	assert.Equal(t, "9AB8F@lid", rec.LID)
}

func TestRecordMappingStandalone(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())

	svc.RecordMapping("u1", "77CDE@lid", "5511900001111")
	require.True(t, svc.Upsert("u1", Incoming{ID: "77CDE@lid", PushName: "carol"}))

	rec, ok := svc.Lookup("u1", "5511900001111")
	require.True(t, ok)
	assert.Equal(t, "carol", rec.PushName)

	// A linked id is never accepted as the canonical side of a mapping.
	svc.RecordMapping("u1", "88FFF@lid", "99GGG@lid")
	_, ok = svc.ResolveLID("u1", "88FFF@lid")
	assert.False(t, ok)
}

func TestTrustOrdering(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())
	const id = "5511977776666"

	// A profile-trust name only fills the push name.
	svc.Upsert("u1", Incoming{ID: id, Name: "cool guy", NameTrust: TrustProfile})
	rec, _ := svc.Lookup("u1", id)
	assert.Empty(t, rec.Name)
	assert.Equal(t, "cool guy", rec.PushName)

	// Chat metadata fills an empty name.
	svc.Upsert("u1", Incoming{ID: id, Name: "Dave (work)", NameTrust: TrustChatMeta})
	rec, _ = svc.Lookup("u1", id)
	assert.Equal(t, "Dave (work)", rec.Name)

	// The address book overwrites chat metadata.
	svc.Upsert("u1", Incoming{ID: id, Name: "Dave Martins", NameTrust: TrustAddressBook})
	rec, _ = svc.Lookup("u1", id)
	assert.Equal(t, "Dave Martins", rec.Name)

	// Lower-trust sources never regress the name afterwards.
	svc.Upsert("u1", Incoming{ID: id, Name: "Dave (work)", NameTrust: TrustChatMeta})
	svc.Upsert("u1", Incoming{ID: id, Name: "cooler guy", NameTrust: TrustProfile})
	rec, _ = svc.Lookup("u1", id)
	assert.Equal(t, "Dave Martins", rec.Name)
	assert.Equal(t, "cool guy", rec.PushName)

	// An explicit push name update does overwrite.
	svc.Upsert("u1", Incoming{ID: id, PushName: "cooler guy"})
	rec, _ = svc.Lookup("u1", id)
	assert.Equal(t, "cooler guy", rec.PushName)
}

func TestPersistRoundTrip(t *testing.T) {
	root := t.TempDir()
	svc := NewService(root, testLogger())

	svc.Upsert("u1", Incoming{ID: "5511999998888", Name: "Alice", NameTrust: TrustAddressBook, LID: "9AB8F@lid"})
	svc.Upsert("u1", Incoming{ID: "5511988887777", PushName: "bob"})
	require.NoError(t, svc.Flush("u1"))

	reloaded := NewService(root, testLogger())
	require.NoError(t, reloaded.Load("u1"))
	assert.Equal(t, 2, reloaded.Count("u1"))

	rec, ok := reloaded.Lookup("u1", "5511999998888")
	require.True(t, ok)
	assert.Equal(t, "Alice", rec.Name)
	assert.Equal(t, "9AB8F@lid", rec.LID)

	canonical, ok := reloaded.ResolveLID("u1", "9AB8F@lid")
	require.True(t, ok)
	assert.Equal(t, "5511999998888", canonical)
}

func TestLoadLegacyFlatFormat(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "u1", "contacts.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))

	legacy := map[string]Record{
		"5511999998888": {ID: "5511999998888", Name: "Alice"},
		"5511988887777": {ID: "5511988887777", PushName: "bob"},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	svc := NewService(root, testLogger())
	require.NoError(t, svc.Load("u1"))
	assert.Equal(t, 2, svc.Count("u1"))

	rec, ok := svc.Lookup("u1", "5511999998888")
	require.True(t, ok)
	assert.Equal(t, "Alice", rec.Name)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())
	require.NoError(t, svc.Load("nobody"))
	assert.Equal(t, 0, svc.Count("nobody"))
}

func TestWaitForContacts(t *testing.T) {
	svc := NewService(t.TempDir(), testLogger())

	// Already populated: returns immediately.
	svc.Upsert("u1", Incoming{ID: "5511999998888", PushName: "x"})
	assert.True(t, svc.WaitForContacts(context.Background(), "u1", 0, time.Millisecond))

	// Empty after the budget: false, not an error.
	assert.False(t, svc.WaitForContacts(context.Background(), "u2", 2, time.Millisecond))

	// Populated while polling.
	go func() {
		time.Sleep(10 * time.Millisecond)
		svc.Upsert("u3", Incoming{ID: "5511911112222", PushName: "y"})
	}()
	assert.True(t, svc.WaitForContacts(context.Background(), "u3", 50, 5*time.Millisecond))

	// Cancelled context stops the wait early.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, svc.WaitForContacts(ctx, "u4", 50, time.Second))
}

func TestForgetDropsMemoryOnly(t *testing.T) {
	root := t.TempDir()
	svc := NewService(root, testLogger())
	svc.Upsert("u1", Incoming{ID: "5511999998888", PushName: "x"})
	require.NoError(t, svc.Flush("u1"))

	svc.Forget("u1")
	assert.Equal(t, 0, svc.Count("u1"))

	// The file survives; only the in-memory view is gone.
	_, err := os.Stat(svc.FilePath("u1"))
	assert.NoError(t, err)
}
