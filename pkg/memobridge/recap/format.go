// Package recap turns finished-conversation webhook payloads into chat
// messages and debounces their delivery per user.
package recap

import (
	"fmt"
	"strings"
	"time"
)

// Memory is the capture platform's "memory created" webhook payload, reduced
// to the fields the recap uses.
type Memory struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Structured struct {
		Title    string `json:"title"`
		Overview string `json:"overview"`
		Category string `json:"category"`
		Emoji    string `json:"emoji"`

		ActionItems []struct {
			Description string `json:"description"`
		} `json:"action_items"`
	} `json:"structured"`
}

// Format renders one memory as a recap message.
func Format(m Memory) string {
	var b strings.Builder

	title := strings.TrimSpace(m.Structured.Title)
	if title == "" {
		title = "Conversation recap"
	}
	if emoji := strings.TrimSpace(m.Structured.Emoji); emoji != "" {
		b.WriteString(emoji)
		b.WriteString(" ")
	}
	b.WriteString("*")
	b.WriteString(title)
	b.WriteString("*")

	if overview := strings.TrimSpace(m.Structured.Overview); overview != "" {
		b.WriteString("\n\n")
		b.WriteString(overview)
	}
	if len(m.Structured.ActionItems) > 0 {
		b.WriteString("\n\nAction items:")
		for _, item := range m.Structured.ActionItems {
			desc := strings.TrimSpace(item.Description)
			if desc == "" {
				continue
			}
			b.WriteString(fmt.Sprintf("\n- %s", desc))
		}
	}
	if category := strings.TrimSpace(m.Structured.Category); category != "" {
		b.WriteString(fmt.Sprintf("\n\n_%s_", category))
	}
	return b.String()
}
