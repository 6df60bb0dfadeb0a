package chat

import "time"

// ThreadKind is fixed at thread creation.
type ThreadKind string

const (
	ThreadDirect ThreadKind = "direct"
	ThreadGroup  ThreadKind = "group"
)

// Role is a participant's role within a thread.
type Role string

const (
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
	RoleMember  Role = "member"
)

// Participant is one member of a thread.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        Role   `json:"role"`
	IsAgent     bool   `json:"is_agent,omitempty"`
}

// Thread is one chat conversation. Rows are created and mutated exclusively
// through the gateway; the client never originates thread ids.
type Thread struct {
	ID            string        `json:"id"`
	Kind          ThreadKind    `json:"kind"`
	Participants  []Participant `json:"participants"`
	ActiveAgentID string        `json:"active_agent_id,omitempty"`
	AgentEnabled  bool          `json:"agent_enabled"`
	CreatedAt     time.Time     `json:"created_at"`
}
