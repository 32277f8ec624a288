package audit

import "time"

// Role is who produced an AuditEntry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Kind distinguishes the shape of an AuditEntry's payload.
type Kind string

const (
	KindMessage    Kind = "message"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindSummary    Kind = "summary"
)

// Entry is one append-only row in a session's history.
type Entry struct {
	SessionID  string    `db:"session_id" json:"session_id"`
	Seq        int64     `db:"seq" json:"seq"`
	Timestamp  time.Time `db:"ts" json:"ts"`
	Role       Role      `db:"role" json:"role"`
	Kind       Kind      `db:"kind" json:"kind"`
	Payload    string    `db:"payload_json" json:"payload_json"`
	ToolName   *string   `db:"tool_name" json:"tool_name,omitempty"`
	ToolParams *string   `db:"tool_params_json" json:"tool_params_json,omitempty"`
	ToolResult *string   `db:"tool_result_json" json:"tool_result_json,omitempty"`
}

// Session is an agent runtime run. Append-only; never mutated after
// EndedAt is set.
type Session struct {
	ID        string     `db:"id" json:"id"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	Outcome   string     `db:"outcome" json:"outcome"`
}
