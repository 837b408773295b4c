package web

import "time"

// Inbound message types (IDE -> server)
const (
	MessageTypeChat             = "chat"
	MessageTypeStop             = "stop"
	MessageTypeApprovalResponse = "approval_response"
	MessageTypeNewChat          = "new_chat"
	MessageTypeLoadChat         = "load_chat"
	MessageTypeDeleteChat       = "delete_chat"
)

// Outbound message types (server -> IDE)
const (
	MessageTypeContent         = "content"
	MessageTypeToolCall        = "tool_call"
	MessageTypeToolResult      = "tool_result"
	MessageTypeApprovalRequest = "approval_request"
	MessageTypeDone            = "done"
	MessageTypeError           = "error"
	MessageTypeSystem          = "system"
	MessageTypeSessions        = "sessions"
	MessageTypeSessionLoaded   = "session_loaded"
)

// WebMessage is one frame on the websocket, both directions
type WebMessage struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Tool call / result frames
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Status    string `json:"status,omitempty"` // "success", "error"

	// Approval frames
	ApprovalID string `json:"approval_id,omitempty"`
	Command    string `json:"command,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	Approved   *bool  `json:"approved,omitempty"` // pointer to distinguish false from unset

	Error string                 `json:"error,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}
