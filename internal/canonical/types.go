// Package canonical defines the backend-neutral request, response and
// streaming event model that every client schema is translated to and from.
// It mirrors the wire schema of the coding-assistant completion backend, so
// no further encoding step sits between this package and the upstream call.
package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates content blocks inside a message.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// StopReason is the backend's stop-reason vocabulary. Client schemas carry
// their own vocabularies; the translate package owns the mapping tables.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
	StopToolUse      StopReason = "tool_use"
)

// ImageSource carries image data either inline (base64) or by URL. The
// encoding is preserved verbatim across translation.
type ImageSource struct {
	Encoding  string `json:"encoding"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data"`
}

// ContentBlock is one addressable unit of a message. Exactly the fields for
// the block's type are populated; the rest stay at their zero values.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage
	Source *ImageSource `json:"source,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// Message is one turn of the conversation sent to the backend.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ToolSpec declares a tool the assistant may invoke. Schema is a JSON Schema
// object; a missing schema is normalised to the empty object schema.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// EmptyObjectSchema is the JSON Schema used when a client declares a tool
// without parameters.
var EmptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Request is the backend completion request.
type Request struct {
	Model         string            `json:"model"`
	System        string            `json:"system,omitempty"`
	Messages      []Message         `json:"messages"`
	Tools         []ToolSpec        `json:"tools,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the backend's non-streaming completion response.
type Response struct {
	ID           string         `json:"id"`
	Model        string         `json:"model"`
	Role         Role           `json:"role"`
	Content      []ContentBlock `json:"content"`
	StopReason   StopReason     `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        Usage          `json:"usage"`
}

// Validate enforces the structural invariants shared by every client schema
// before a request is sent upstream: a non-empty message sequence, a leading
// user turn, and tool_result blocks that reference a previously seen
// tool_use id.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if r.Messages[0].Role != RoleUser {
		return fmt.Errorf("first message role must be %q, got %q", RoleUser, r.Messages[0].Role)
	}
	seen := map[string]bool{}
	for i, msg := range r.Messages {
		if len(msg.Content) == 0 {
			return fmt.Errorf("message %d has no content", i)
		}
		for _, block := range msg.Content {
			switch block.Type {
			case BlockToolUse:
				if block.ID != "" {
					seen[block.ID] = true
				}
			case BlockToolResult:
				if block.ToolUseID == "" {
					return fmt.Errorf("message %d: tool_result without tool_use_id", i)
				}
				if !seen[block.ToolUseID] {
					return fmt.Errorf("message %d: tool_result references unknown tool_use id %q", i, block.ToolUseID)
				}
			}
		}
	}
	return nil
}
