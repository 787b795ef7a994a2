// Package task defines the durable unit of work shared by all three
// protocol frontends and persisted through the key-value store gateway.
package task

import "time"

// State is the task lifecycle vocabulary.
type State string

const (
	StateQueued         State = "queued"
	StateRunning        State = "running"
	StateCompleted      State = "completed"
	StateFailed         State = "failed"
	StateInputRequired  State = "input-required"
	StateCanceled       State = "canceled"
)

// IsTerminal reports whether a state admits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateInputRequired, StateCanceled:
		return true
	default:
		return false
	}
}

// Role identifies the author of a StatusMessage.
type Role string

const (
	RoleAgent Role = "agent"
	RoleUser  Role = "user"
)

// Part is a tagged variant: either a text part or a structured data part.
type Part struct {
	Kind     string      `json:"kind"` // "text" | "data"
	Text     string      `json:"text,omitempty"`
	MimeType string      `json:"mimeType,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

func TextPart(text string) Part {
	return Part{Kind: "text", Text: text}
}

func DataPart(mimeType string, data interface{}) Part {
	return Part{Kind: "data", MimeType: mimeType, Data: data}
}

// StatusMessage is appended to a task's history on every transition.
type StatusMessage struct {
	Role      Role      `json:"role"`
	Parts     []Part    `json:"parts"`
	Timestamp time.Time `json:"timestamp"`
}

// Artifact is attached once per task by its worker and never modified after.
type Artifact struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Parts    []Part `json:"parts"`
}

// Task is the durable unit of work persisted under task:<id>.
type Task struct {
	ID        string                 `json:"id"`
	ContextID string                 `json:"contextId"`
	Skill     string                 `json:"skill"`
	Params    map[string]interface{} `json:"params"`
	Status    State                  `json:"status"`
	History   []StatusMessage        `json:"history"`
	Artifacts []Artifact             `json:"artifacts"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// New constructs a task in the initial queued state.
func New(id, contextID, skill string, params map[string]interface{}) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		ContextID: contextID,
		Skill:     skill,
		Params:    params,
		Status:    StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
