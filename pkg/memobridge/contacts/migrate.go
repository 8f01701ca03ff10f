package contacts

import (
	"fmt"
	"log/slog"
	"os"
)

// MigrateLegacyFile rewrites a legacy flat-format directory file in place as
// the current {contacts, lidMap} shape, backing up the original first.
//
// Legacy files could hold entries keyed by linked id. Entries whose mapping
// can be recovered (a canonical record points at the same linked id) are
// merged into their canonical counterpart; linked-id-only entries that carry
// no usable name are dropped. Returns false when the file is already in the
// current format or does not exist.
func MigrateLegacyFile(path string, logger *slog.Logger) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, legacy, found, err := loadDirectoryFile(path)
	if err != nil {
		return false, err
	}
	if !found || !legacy {
		return false, nil
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := os.WriteFile(path+".bak", original, 0o600); err != nil {
		return false, fmt.Errorf("backup %s: %w", path, err)
	}

	// Recover the linked-id mapping from canonical records that already
	// carry their linked id.
	lidMap := make(map[string]string)
	for id, rec := range file.Contacts {
		if !IsLinkedID(id) && rec.LID != "" {
			lidMap[rec.LID] = id
		}
	}

	contacts := make(map[string]Record)
	merged, dropped := 0, 0
	for id, rec := range file.Contacts {
		if !IsLinkedID(id) {
			existing, ok := contacts[id]
			if ok {
				mergeMigrated(&existing, rec)
				contacts[id] = existing
			} else {
				contacts[id] = rec
			}
			continue
		}
		canonical, ok := lidMap[id]
		if ok {
			target, exists := contacts[canonical]
			if !exists {
				target = file.Contacts[canonical]
				target.ID = canonical
			}
			mergeMigrated(&target, rec)
			target.LID = id
			contacts[canonical] = target
			merged++
			continue
		}
		if rec.Name == "" && rec.PushName == "" && rec.BusinessName == "" {
			dropped++
			continue
		}
		// Named but unplaceable: kept transiently under the linked id until
		// a mapping event reconciles it.
		rec.ID = id
		contacts[id] = rec
	}

	out := directoryFile{Contacts: contacts, LIDMap: lidMap}
	if err := writeJSONAtomic(path, out); err != nil {
		return false, err
	}
	logger.Info("legacy directory migrated",
		"path", path, "contacts", len(contacts), "merged", merged, "dropped", dropped)
	return true, nil
}

// mergeMigrated fills gaps in dst from src without overwriting anything
// already present.
func mergeMigrated(dst *Record, src Record) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.PushName == "" {
		dst.PushName = src.PushName
	}
	if dst.BusinessName == "" {
		dst.BusinessName = src.BusinessName
	}
	if dst.LID == "" {
		dst.LID = src.LID
	}
	if dst.UpdatedAt.Before(src.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
}
