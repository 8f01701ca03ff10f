package contacts

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// minPhoneDigits is the shortest phone number accepted by bulk import.
const minPhoneDigits = 7

// SavedStore holds user-authored name→identity bindings, independent of and
// higher-priority than the learned directory. All mutations persist the full
// per-uid table immediately; save/delete are low-frequency user actions, so
// write-through is fine.
type SavedStore struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	tables map[string]map[string]SavedContact
}

type savedFile struct {
	Contacts map[string]SavedContact `json:"contacts"`
}

// ImportResult aggregates the outcome of a bulk import.
type ImportResult struct {
	Upserted        int `json:"upserted"`
	Skipped         int `json:"skipped"`
	Invalid         int `json:"invalid"`
	ManualPreserved int `json:"manualPreserved"`
}

// ImportEntry is one row of a bulk import.
type ImportEntry struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// NewSavedStore creates a saved-contact store rooted at the sessions directory.
func NewSavedStore(root string, logger *slog.Logger) *SavedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SavedStore{
		root:   root,
		logger: logger.With("component", "saved_contacts"),
		tables: make(map[string]map[string]SavedContact),
	}
}

// FilePath returns the saved-contacts file path for uid.
func (s *SavedStore) FilePath(uid string) string {
	return filepath.Join(s.root, uid, "saved-contacts.json")
}

// table returns uid's table, loading it from disk on first access.
func (s *SavedStore) table(uid string) map[string]SavedContact {
	if t, ok := s.tables[uid]; ok {
		return t
	}
	t := make(map[string]SavedContact)
	var file savedFile
	found, err := readJSON(s.FilePath(uid), &file)
	if err != nil {
		s.logger.Error("saved contacts load failed", "uid", uid, "error", err)
	} else if found {
		for id, sc := range file.Contacts {
			if sc.ID == "" {
				sc.ID = id
			}
			t[id] = sc
		}
	}
	s.tables[uid] = t
	return t
}

// Save upserts a name binding. An existing manual entry is never overwritten
// by an imported one: the write is rejected and the existing entry returned
// unchanged (written=false).
func (s *SavedStore) Save(uid, name, canonicalID, source string) (SavedContact, bool, error) {
	name = strings.TrimSpace(name)
	canonicalID = NormalizePhone(canonicalID)
	if name == "" || canonicalID == "" {
		return SavedContact{}, false, fmt.Errorf("name and contact id are required")
	}
	if source != SourceImported {
		source = SourceManual
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(uid)

	now := time.Now().UTC()
	existing, ok := t[canonicalID]
	if ok && existing.Source == SourceManual && source == SourceImported {
		return existing, false, nil
	}

	sc := SavedContact{
		ID:      canonicalID,
		Name:    name,
		Source:  source,
		AddedAt: now,
	}
	if ok {
		sc.AddedAt = existing.AddedAt
		sc.UpdatedAt = now
	}
	t[canonicalID] = sc

	if err := s.persistLocked(uid, t); err != nil {
		return sc, true, err
	}
	return sc, true, nil
}

// BulkImport upserts many entries at once. Entries with a blank name or fewer
// than seven phone digits are invalid; an unchanged already-imported entry is
// skipped; entries colliding with a manual binding are counted under both
// skipped and manualPreserved, and the manual name is left untouched.
func (s *SavedStore) BulkImport(uid string, entries []ImportEntry) (ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(uid)

	var res ImportResult
	now := time.Now().UTC()
	dirty := false

	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		phone := NormalizePhone(e.Phone)
		if name == "" || len(phone) < minPhoneDigits {
			res.Invalid++
			continue
		}

		existing, ok := t[phone]
		if ok && existing.Source == SourceManual {
			res.ManualPreserved++
			res.Skipped++
			continue
		}
		if ok && existing.Source == SourceImported && existing.Name == name {
			res.Skipped++
			continue
		}

		sc := SavedContact{
			ID:      phone,
			Name:    name,
			Source:  SourceImported,
			AddedAt: now,
		}
		if ok {
			sc.AddedAt = existing.AddedAt
			sc.UpdatedAt = now
		}
		t[phone] = sc
		res.Upserted++
		dirty = true
	}

	if dirty {
		if err := s.persistLocked(uid, t); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Delete removes the binding for canonicalID, reporting whether it existed.
func (s *SavedStore) Delete(uid, canonicalID string) (bool, error) {
	canonicalID = NormalizePhone(canonicalID)

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(uid)
	if _, ok := t[canonicalID]; !ok {
		return false, nil
	}
	delete(t, canonicalID)
	return true, s.persistLocked(uid, t)
}

// Get returns uid's saved contacts sorted by name.
func (s *SavedStore) Get(uid string) []SavedContact {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(uid)
	out := make([]SavedContact, 0, len(t))
	for _, sc := range t {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Forget drops uid's in-memory table. Used after logout teardown.
func (s *SavedStore) Forget(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, uid)
}

func (s *SavedStore) persistLocked(uid string, t map[string]SavedContact) error {
	file := savedFile{Contacts: make(map[string]SavedContact, len(t))}
	for id, sc := range t {
		file.Contacts[id] = sc
	}
	return writeJSONAtomic(s.FilePath(uid), file)
}
