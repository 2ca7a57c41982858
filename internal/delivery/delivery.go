// Package delivery implements the durable inbox scheduled runs (and other
// system-initiated messages) land in: list/get/mark-read/unread-count plus
// a broadcast of NewDelivery/DeliveryRead events where a lagged subscriber
// skips gaps rather than being disconnected.
package delivery

import "time"

// Delivery is one inbox entry.
type Delivery struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Channel   string    `json:"channel,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Content   string    `json:"content"`
	SourceRef string    `json:"source_ref,omitempty"` // e.g. "schedule:<id>", "run:<runID>"
	CreatedAt time.Time `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// EventKind enumerates delivery broadcast events.
type EventKind int

const (
	NewDelivery EventKind = iota
	DeliveryRead
)

// Event is broadcast on every delivery mutation.
type Event struct {
	Kind EventKind
	ID   string
}
