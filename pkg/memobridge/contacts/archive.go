package contacts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ArchiveMetadata describes one archived snapshot of a user's contact data.
type ArchiveMetadata struct {
	ID         string    `json:"id"`
	UID        string    `json:"uid"`
	Reason     string    `json:"reason"`
	ArchivedAt time.Time `json:"archivedAt"`
	Files      []string  `json:"files"`
}

// ArchiveUser copies uid's contact and saved-contact files into
// sessions-archive/{uid}/{timestamp}/ together with a metadata record.
// Called before any destructive auth cleanup; user-authored data is never
// discarded without an archival copy. Returns the archive directory.
func ArchiveUser(sessionsRoot, archiveRoot, uid, reason string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stamp := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(archiveRoot, uid, stamp)
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	meta := ArchiveMetadata{
		ID:         uuid.NewString(),
		UID:        uid,
		Reason:     reason,
		ArchivedAt: time.Now().UTC(),
	}
	for _, name := range []string{"contacts.json", "saved-contacts.json"} {
		src := filepath.Join(sessionsRoot, uid, name)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("read %s: %w", src, err)
		}
		if err := os.WriteFile(filepath.Join(dest, name), data, 0o600); err != nil {
			return "", fmt.Errorf("archive %s: %w", name, err)
		}
		meta.Files = append(meta.Files, name)
	}

	if err := writeJSONAtomic(filepath.Join(dest, "metadata.json"), meta); err != nil {
		return "", err
	}
	logger.Info("user data archived",
		"uid", uid, "reason", reason, "dir", dest, "files", len(meta.Files))
	return dest, nil
}
