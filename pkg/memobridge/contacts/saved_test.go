package contacts

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveNormalizesAndValidates(t *testing.T) {
	store := NewSavedStore(t.TempDir(), testLogger())

	sc, written, err := store.Save("u1", "  Mom  ", "+55 (11) 99999-8888", SourceManual)
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, "Mom", sc.Name)
	assert.Equal(t, "5511999998888", sc.ID)

	_, _, err = store.Save("u1", "", "5511999998888", SourceManual)
	assert.Error(t, err)
	_, _, err = store.Save("u1", "Mom", "+-()", SourceManual)
	assert.Error(t, err)
}

func TestManualNeverOverwrittenByImport(t *testing.T) {
	store := NewSavedStore(t.TempDir(), testLogger())

	_, written, err := store.Save("u1", "Mom", "5511999998888", SourceManual)
	require.NoError(t, err)
	require.True(t, written)

	sc, written, err := store.Save("u1", "Mother Dearest", "5511999998888", SourceImported)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, "Mom", sc.Name, "existing manual entry returned unchanged")

	// A manual save over a manual entry is a rename.
	sc, written, err = store.Save("u1", "Mamãe", "5511999998888", SourceManual)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "Mamãe", sc.Name)
	assert.False(t, sc.UpdatedAt.IsZero())
}

func TestBulkImportCounts(t *testing.T) {
	store := NewSavedStore(t.TempDir(), testLogger())

	_, _, err := store.Save("u1", "Mom", "5511999998888", SourceManual)
	require.NoError(t, err)

	entries := []ImportEntry{
		{Name: "Mother", Phone: "+55 11 99999-8888"}, // collides with manual
		{Name: "Alice", Phone: "5511911112222"},
		{Name: "Bob", Phone: "5511933334444"},
		{Name: "", Phone: "5511955556666"},  // blank name
		{Name: "Shorty", Phone: "12345"},    // too few digits
	}
	res, err := store.BulkImport("u1", entries)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.ManualPreserved)
	assert.Equal(t, 2, res.Invalid)

	// The manual name survived.
	saved := store.Get("u1")
	byID := make(map[string]SavedContact, len(saved))
	for _, sc := range saved {
		byID[sc.ID] = sc
	}
	assert.Equal(t, "Mom", byID["5511999998888"].Name)

	// Re-importing identical rows is a no-op.
	res, err = store.BulkImport("u1", []ImportEntry{{Name: "Alice", Phone: "5511911112222"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Upserted)
	assert.Equal(t, 1, res.Skipped)

	// A changed imported name is an update.
	res, err = store.BulkImport("u1", []ImportEntry{{Name: "Alice B", Phone: "5511911112222"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
}

func TestSavedWriteThrough(t *testing.T) {
	root := t.TempDir()
	store := NewSavedStore(root, testLogger())

	_, _, err := store.Save("u1", "Mom", "5511999998888", SourceManual)
	require.NoError(t, err)
	_, err = os.Stat(store.FilePath("u1"))
	require.NoError(t, err, "save persists immediately")

	// A fresh store sees the entry without an explicit load call.
	reloaded := NewSavedStore(root, testLogger())
	saved := reloaded.Get("u1")
	require.Len(t, saved, 1)
	assert.Equal(t, "Mom", saved[0].Name)
}

func TestDeleteSaved(t *testing.T) {
	store := NewSavedStore(t.TempDir(), testLogger())
	_, _, err := store.Save("u1", "Mom", "5511999998888", SourceManual)
	require.NoError(t, err)

	ok, err := store.Delete("u1", "+55 11 99999 8888")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Delete("u1", "5511999998888")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, store.Get("u1"))
}

func TestGetSortedByName(t *testing.T) {
	store := NewSavedStore(t.TempDir(), testLogger())
	for _, e := range []ImportEntry{
		{Name: "Zoe", Phone: "5511900000001"},
		{Name: "Alice", Phone: "5511900000002"},
		{Name: "Mark", Phone: "5511900000003"},
	} {
		_, _, err := store.Save("u1", e.Name, e.Phone, SourceManual)
		require.NoError(t, err)
	}
	saved := store.Get("u1")
	require.Len(t, saved, 3)
	assert.Equal(t, []string{"Alice", "Mark", "Zoe"},
		[]string{saved[0].Name, saved[1].Name, saved[2].Name})
}
