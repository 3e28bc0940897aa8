// Package llm abstracts the chat-completion backend the pipeline talks to
// for generation, brand review, and voice learning. The core never assumes
// a specific invocation mechanism, only that a call can time out or fail.
package llm

import (
	"context"
	"errors"
)

// ErrBackendUnavailable wraps transport-level failures from the backend.
// Callers treat it as transient and follow their fallback path.
var ErrBackendUnavailable = errors.New("llm backend unavailable")

// Message is a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured
// responses. It is rendered into the prompt; output is still parsed
// defensively because models drift.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Client is the chat-completion interface consumed by the orchestrator,
// reviewer, and learner. When jsonSchema is non-nil the backend is asked
// for structured JSON output.
type Client interface {
	Chat(ctx context.Context, messages []Message, jsonSchema *Schema) (string, error)
}
