// Package v1 defines the Loom Gateway Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the synchronizer client and tooling to keep the wire
// protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated during the handshake.
const Subprotocol = "loom.gateway.v1"

// Type constants (wire-stable).
const (
	// TypeSubscribe requests change delivery for a table/filter (client -> gateway).
	TypeSubscribe = "subscribe"
	// TypeSubscribeAck confirms a subscription (gateway -> client).
	TypeSubscribeAck = "subscribe_ack"

	// TypeUnsubscribe releases a subscription (client -> gateway).
	TypeUnsubscribe = "unsubscribe"

	// TypeChange delivers one row change event (gateway -> client).
	TypeChange = "change"

	// TypeError is a generic error envelope (gateway -> client).
	TypeError = "error"
)

// Change kinds carried by ChangePayload.Kind.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSubscribe,
		TypeSubscribeAck,
		TypeUnsubscribe,
		TypeChange,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// SubscribePayload requests change events for rows of a table matching Filter.
// Events lists the change kinds wanted; empty means all kinds.
type SubscribePayload struct {
	Table  string            `json:"table"`
	Events []string          `json:"events,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

// Validate checks the structural requirements of a subscribe request.
func (p SubscribePayload) Validate() error {
	if strings.TrimSpace(p.Table) == "" {
		return errors.New("missing field: table")
	}
	for _, ev := range p.Events {
		switch ev {
		case ChangeInsert, ChangeUpdate, ChangeDelete:
		default:
			return fmt.Errorf("unknown event kind: %q", ev)
		}
	}
	return nil
}

// SubscribeAckPayload confirms a subscription and carries its server-side id.
type SubscribeAckPayload struct {
	SubscriptionID string `json:"subscription_id"`
	Table          string `json:"table"`
}

// UnsubscribePayload releases a previously acknowledged subscription.
type UnsubscribePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

// ChangePayload delivers one row-level change. Row is the full authoritative
// row for insert/update; for delete it carries at least the row's id.
type ChangePayload struct {
	SubscriptionID string          `json:"subscription_id"`
	Table          string          `json:"table"`
	Kind           string          `json:"kind"`
	Row            json.RawMessage `json:"row"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
