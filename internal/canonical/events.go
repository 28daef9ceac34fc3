package canonical

import (
	"encoding/json"
	"fmt"
)

// EventType tags a streaming event from the backend.
type EventType string

const (
	EventMessageStart      EventType = "message_start"
	EventContentBlockStart EventType = "content_block_start"
	EventContentBlockDelta EventType = "content_block_delta"
	EventContentBlockStop  EventType = "content_block_stop"
	EventMessageDelta      EventType = "message_delta"
	EventMessageStop       EventType = "message_stop"
	EventPing              EventType = "ping"
	EventError             EventType = "error"
)

// DeltaType discriminates the payload of a content_block_delta event.
type DeltaType string

const (
	DeltaText      DeltaType = "text_delta"
	DeltaInputJSON DeltaType = "input_json_delta"
)

// MessageInfo is the message envelope carried by message_start.
type MessageInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Role  Role   `json:"role"`
	Usage Usage  `json:"usage"`
}

// Delta is the incremental payload of content_block_delta and message_delta.
type Delta struct {
	Type         DeltaType  `json:"type,omitempty"`
	Text         string     `json:"text,omitempty"`
	PartialJSON  string     `json:"partial_json,omitempty"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
	StopSequence string     `json:"stop_sequence,omitempty"`
}

// ErrorInfo carries a backend-reported stream error.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// StreamEvent is one tagged event of the backend's streaming response.
// Per content-block index the backend guarantees the grammar
// content_block_start, content_block_delta*, content_block_stop, and block
// indices never interleave their start/stop pairs.
type StreamEvent struct {
	Type         EventType     `json:"type"`
	Message      *MessageInfo  `json:"message,omitempty"`
	Index        int           `json:"index,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Error        *ErrorInfo    `json:"error,omitempty"`
}

// ParseStreamEvent decodes one SSE data payload into a StreamEvent.
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var evt StreamEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return StreamEvent{}, fmt.Errorf("parse stream event: %w", err)
	}
	if evt.Type == "" {
		return StreamEvent{}, fmt.Errorf("stream event without type: %s", string(data))
	}
	return evt, nil
}
