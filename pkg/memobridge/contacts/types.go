// Package contacts maintains the per-user contact directory learned from the
// messaging network, the user-authored saved-contact store, and the fuzzy
// name matcher that resolves free-text names against both.
package contacts

import (
	"strings"
	"time"
)

// Record is one learned directory entry, always keyed by the canonical
// (phone-based) id. The three name fields come from different sources with
// different trust: Name is harvested from the user's address book (or chat
// metadata), PushName is the counterparty's self-chosen profile name, and
// BusinessName is the network-verified business name.
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	PushName     string    `json:"pushName,omitempty"`
	BusinessName string    `json:"businessName,omitempty"`
	LID          string    `json:"lid,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
}

// DisplayName returns the best name for the record, preferring address-book
// over verified over self-chosen.
func (r Record) DisplayName() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.BusinessName != "":
		return r.BusinessName
	case r.PushName != "":
		return r.PushName
	}
	return r.ID
}

// NameFields returns the non-empty name candidates for matching.
func (r Record) NameFields() []string {
	fields := make([]string, 0, 3)
	for _, f := range []string{r.Name, r.PushName, r.BusinessName} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// Trust orders the sources a name can come from. A field set by a
// higher-trust source is never overwritten by a lower-trust one.
type Trust int

const (
	// TrustProfile is a self-chosen profile (push) name.
	TrustProfile Trust = iota
	// TrustChatMeta is a display name derived from chat metadata.
	TrustChatMeta
	// TrustAddressBook is a name from the user's own address book.
	TrustAddressBook
)

// Incoming is one raw contact observation from the network. ID may be a
// canonical id or a linked id; LID is the linked-id hint when the event
// carries both namespaces at once.
type Incoming struct {
	ID           string
	LID          string
	Name         string
	NameTrust    Trust
	PushName     string
	BusinessName string
}

// SavedContact is a user-authored name binding. Source is "manual" or
// "imported"; a manual entry is never overwritten by an imported one.
type SavedContact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	AddedAt   time.Time `json:"addedAt"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

const (
	SourceManual   = "manual"
	SourceImported = "imported"
)

// IsPlaceholderID reports whether id is a group or broadcast pseudo-identity
// that must never be stored or matched as a person.
func IsPlaceholderID(id string) bool {
	return strings.Contains(id, "-") && strings.Contains(id, "@g.us") ||
		strings.HasSuffix(id, "@g.us") ||
		strings.Contains(id, "broadcast") ||
		strings.HasPrefix(id, "status")
}

// NormalizePhone strips everything but digits from a phone number.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
