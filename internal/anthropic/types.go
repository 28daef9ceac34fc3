// Package anthropic defines the subset of the Anthropic Messages wire
// schema the gateway round-trips, including the streaming SSE event shapes.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// MessagesRequest is the Anthropic Messages API request body.
type MessagesRequest struct {
	Model         string            `json:"model"`
	System        SystemPrompt      `json:"system,omitempty"`
	Messages      []Message         `json:"messages"`
	MaxTokens     int               `json:"max_tokens"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Tools         []Tool            `json:"tools,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SystemPrompt accepts Anthropic's string-or-blocks top-level system field.
type SystemPrompt string

// UnmarshalJSON accepts a plain string or an array of text blocks, which are
// concatenated in order.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt(str)
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("system must be string or array of text blocks")
	}
	var out string
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n\n"
		}
		out += b.Text
	}
	*s = SystemPrompt(out)
	return nil
}

// Tool declares a callable tool with its JSON Schema input.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent accepts Anthropic's string-or-blocks content field.
type MessageContent []ContentBlock

// UnmarshalJSON accepts either a plain string or an array of blocks.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = MessageContent{{Type: "text", Text: str}}
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("content must be string or array of blocks")
	}
	*c = MessageContent(blocks)
	return nil
}

// ContentBlock is one block of message content. Exactly the fields for the
// block's type are populated.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *ImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ImageSource carries base64 or URL image data.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// MessagesResponse is the non-streaming Messages API response.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage reports token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is Anthropic's error body shape.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error classification and message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CountTokensRequest is the count_tokens request body.
type CountTokensRequest struct {
	Model    string       `json:"model"`
	System   SystemPrompt `json:"system,omitempty"`
	Messages []Message    `json:"messages"`
	Tools    []Tool       `json:"tools,omitempty"`
}

// CountTokensResponse is the count_tokens response body.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}
