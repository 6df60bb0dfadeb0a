// Package chat implements the client-side chat thread synchronizer: an
// in-memory message store with idempotent reconciliation, the optimistic send
// pipeline, realtime change application, and offset pagination.
package chat

import (
	"strings"
	"time"

	"loom/cmd/internal/ids"
)

// Status is the client-visible message lifecycle. It is not a delivery
// guarantee protocol.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a status patch from "from" to "to" is legal.
//
// Rules:
//   - pending -> sent or failed, exactly once
//   - sent -> delivered -> read, monotonic, never regressing
//   - failed is terminal for that attempt (a retry is a new message)
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusFailed
	case StatusSent:
		return to == StatusDelivered || to == StatusRead
	case StatusDelivered:
		return to == StatusRead
	default:
		return false
	}
}

// Message is one chat message row. Field tags match the gateway's wire rows.
type Message struct {
	ID          string      `json:"id"`
	ThreadID    string      `json:"thread_id"`
	SenderID    string      `json:"sender_id"`
	Content     string      `json:"content"`
	Kind        ContentKind `json:"content_kind"`
	CreatedAt   time.Time   `json:"created_at"`
	Status      Status      `json:"status"`
	AgentSender bool        `json:"agent_sender,omitempty"`
}

// Local reports whether the message carries a transient client-generated id.
func (m Message) Local() bool {
	return ids.IsLocal(m.ID)
}

// TypingPlaceholder reports whether the message is an agent's in-progress
// placeholder: agent sender, pending, empty content.
func (m Message) TypingPlaceholder() bool {
	return m.AgentSender && m.Status == StatusPending && strings.TrimSpace(m.Content) == ""
}

// Draft is the client's proposal for a new message. The gateway assigns the
// authoritative id, timestamp, and status.
type Draft struct {
	ThreadID string      `json:"thread_id"`
	SenderID string      `json:"sender_id"`
	Content  string      `json:"content"`
	Kind     ContentKind `json:"content_kind"`
}
