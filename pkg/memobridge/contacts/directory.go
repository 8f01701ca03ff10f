package contacts

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// persistDebounce coalesces bursts of mutations into one disk write.
const persistDebounce = 500 * time.Millisecond

// Service is the identity reconciler. It consumes raw contact observations
// from the session layer and maintains one canonically-keyed directory per
// uid, persisted under sessions/{uid}/contacts.json.
//
// The network emits two incompatible identifier namespaces for the same
// counterparty: the stable phone-based canonical id and an opaque per-network
// linked id. Entries are only ever stored under the canonical id; a linked-id
// observation with no known mapping is dropped and picked up again once the
// mapping arrives, since the network re-emits contact data across sync events.
type Service struct {
	root   string
	logger *slog.Logger

	mu   sync.Mutex
	dirs map[string]*directory
}

type directory struct {
	mu       sync.RWMutex
	contacts map[string]*Record
	lidMap   map[string]string

	persistTimer *time.Timer
}

// directoryFile is the on-disk shape. The legacy format was a flat
// map[canonicalId]Record; loadDirectoryFile accepts both.
type directoryFile struct {
	Contacts map[string]Record `json:"contacts"`
	LIDMap   map[string]string `json:"lidMap"`
}

// NewService creates a directory service rooted at the sessions directory.
func NewService(root string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		root:   root,
		logger: logger.With("component", "contacts"),
		dirs:   make(map[string]*directory),
	}
}

// FilePath returns the directory file path for uid.
func (s *Service) FilePath(uid string) string {
	return filepath.Join(s.root, uid, "contacts.json")
}

func (s *Service) dir(uid string) *directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dirs[uid]
	if !ok {
		d = &directory{
			contacts: make(map[string]*Record),
			lidMap:   make(map[string]string),
		}
		s.dirs[uid] = d
	}
	return d
}

// IsLinkedID reports whether id belongs to the opaque linked-id namespace.
func IsLinkedID(id string) bool {
	return strings.HasSuffix(id, "@lid")
}

// Upsert merges one observation into uid's directory and schedules a
// background persist. Returns true if the observation was placed (stored
// under a canonical key), false if it was dropped as not yet placeable.
func (s *Service) Upsert(uid string, in Incoming) bool {
	if in.ID == "" || IsPlaceholderID(in.ID) {
		return false
	}
	d := s.dir(uid)
	d.mu.Lock()

	// An observation carrying both namespaces teaches us the mapping even
	// when it carries nothing else of value.
	if in.LID != "" && !IsLinkedID(in.ID) {
		d.lidMap[in.LID] = in.ID
	}

	key := in.ID
	if IsLinkedID(in.ID) {
		mapped, ok := d.lidMap[in.ID]
		if !ok {
			d.mu.Unlock()
			s.logger.Debug("contact not yet placeable, dropping",
				"uid", uid, "lid", in.ID)
			return false
		}
		key = mapped
	}

	rec, ok := d.contacts[key]
	if !ok {
		rec = &Record{ID: key}
		d.contacts[key] = rec
	}
	mergeRecord(rec, in)
	if IsLinkedID(in.ID) {
		rec.LID = in.ID
	} else if in.LID != "" {
		rec.LID = in.LID
	}
	rec.UpdatedAt = time.Now().UTC()
	d.mu.Unlock()

	s.persistSoon(uid, d)
	return true
}

// mergeRecord applies the trust-ordered merge: name fields are additive and
// defensive (a higher-trust name is never replaced by a lower-trust source),
// everything else overwrites freely.
func mergeRecord(rec *Record, in Incoming) {
	if in.Name != "" {
		switch in.NameTrust {
		case TrustAddressBook:
			rec.Name = in.Name
		case TrustChatMeta:
			if rec.Name == "" {
				rec.Name = in.Name
			}
		case TrustProfile:
			if rec.PushName == "" {
				rec.PushName = in.Name
			}
		}
	}
	if in.PushName != "" {
		rec.PushName = in.PushName
	}
	if in.BusinessName != "" {
		rec.BusinessName = in.BusinessName
	}
}

// RecordMapping registers a linkedId → canonicalId mapping on its own,
// e.g. learned from a message envelope that carries both sender forms.
func (s *Service) RecordMapping(uid, lid, canonical string) {
	if lid == "" || canonical == "" || IsLinkedID(canonical) {
		return
	}
	d := s.dir(uid)
	d.mu.Lock()
	prev, existed := d.lidMap[lid]
	d.lidMap[lid] = canonical
	d.mu.Unlock()
	if !existed || prev != canonical {
		s.persistSoon(uid, d)
	}
}

// ResolveLID maps a linked id to its canonical id, if known.
func (s *Service) ResolveLID(uid, lid string) (string, bool) {
	d := s.dir(uid)
	d.mu.RLock()
	defer d.mu.RUnlock()
	canonical, ok := d.lidMap[lid]
	return canonical, ok
}

// Get returns a snapshot of uid's directory sorted by canonical id. Matcher
// reads may race an in-flight merge; a slightly stale snapshot is fine.
func (s *Service) Get(uid string) []Record {
	d := s.dir(uid)
	d.mu.RLock()
	out := make([]Record, 0, len(d.contacts))
	for _, rec := range d.contacts {
		out = append(out, *rec)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the record stored under the canonical id.
func (s *Service) Lookup(uid, canonicalID string) (Record, bool) {
	d := s.dir(uid)
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.contacts[canonicalID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Count returns the number of placed contacts for uid.
func (s *Service) Count(uid string) int {
	d := s.dir(uid)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.contacts)
}

// WaitForContacts polls until uid's directory is non-empty, retrying up to
// retries times with a fixed delay. Contacts arrive asynchronously after the
// connection opens, sometimes tens of seconds later; an empty directory after
// the budget is a normal, reportable outcome, not an error.
func (s *Service) WaitForContacts(ctx context.Context, uid string, retries int, delay time.Duration) bool {
	for i := 0; i <= retries; i++ {
		if s.Count(uid) > 0 {
			return true
		}
		if i == retries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return false
}

// Load reads uid's persisted directory into memory, accepting both the
// current {contacts, lidMap} shape and the legacy flat map. Called on startup
// before the live connection is re-established so a restart never presents an
// empty directory.
func (s *Service) Load(uid string) error {
	file, legacy, found, err := loadDirectoryFile(s.FilePath(uid))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if legacy {
		s.logger.Info("loaded legacy-format directory, will rewrite on next persist",
			"uid", uid, "contacts", len(file.Contacts))
	}

	d := s.dir(uid)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, rec := range file.Contacts {
		rec := rec
		if rec.ID == "" {
			rec.ID = id
		}
		d.contacts[id] = &rec
	}
	for lid, canonical := range file.LIDMap {
		d.lidMap[lid] = canonical
	}
	return nil
}

// Flush writes uid's directory to disk synchronously.
func (s *Service) Flush(uid string) error {
	d := s.dir(uid)
	return s.persist(uid, d)
}

// persistSoon schedules a background write, coalescing bursts. Persistence is
// fire-and-forget: failure is logged and never propagated into the
// event-handling path; the in-memory directory stays correct regardless.
func (s *Service) persistSoon(uid string, d *directory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.persistTimer != nil {
		return
	}
	d.persistTimer = time.AfterFunc(persistDebounce, func() {
		d.mu.Lock()
		d.persistTimer = nil
		d.mu.Unlock()
		if err := s.persist(uid, d); err != nil {
			s.logger.Error("directory persist failed", "uid", uid, "error", err)
		}
	})
}

func (s *Service) persist(uid string, d *directory) error {
	d.mu.RLock()
	file := directoryFile{
		Contacts: make(map[string]Record, len(d.contacts)),
		LIDMap:   make(map[string]string, len(d.lidMap)),
	}
	for id, rec := range d.contacts {
		file.Contacts[id] = *rec
	}
	for lid, canonical := range d.lidMap {
		file.LIDMap[lid] = canonical
	}
	d.mu.RUnlock()
	return writeJSONAtomic(s.FilePath(uid), file)
}

// Forget drops uid's in-memory directory. Used after logout teardown.
func (s *Service) Forget(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirs, uid)
}

// loadDirectoryFile reads a directory file in either format. legacy reports
// whether the flat pre-{contacts,lidMap} shape was encountered.
func loadDirectoryFile(path string) (file directoryFile, legacy, found bool, err error) {
	var probe struct {
		Contacts map[string]Record `json:"contacts"`
		LIDMap   map[string]string `json:"lidMap"`
	}
	found, err = readJSON(path, &probe)
	if err != nil || !found {
		return directoryFile{}, false, found, err
	}
	if probe.Contacts != nil || probe.LIDMap != nil {
		file.Contacts = probe.Contacts
		file.LIDMap = probe.LIDMap
		if file.Contacts == nil {
			file.Contacts = make(map[string]Record)
		}
		if file.LIDMap == nil {
			file.LIDMap = make(map[string]string)
		}
		return file, false, true, nil
	}

	// Legacy flat map of canonicalId → Record.
	flat := make(map[string]Record)
	if _, err := readJSON(path, &flat); err != nil {
		return directoryFile{}, false, true, err
	}
	file.Contacts = flat
	file.LIDMap = make(map[string]string)
	return file, true, true, nil
}
