package canonical

import (
	"encoding/json"
	"strings"
	"testing"
)

func userText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

func TestRequestValidate(t *testing.T) {
	toolTurn := []Message{
		userText("compute 1+2"),
		{Role: RoleAssistant, Content: []ContentBlock{{
			Type: BlockToolUse, ID: "call_1", Name: "compute", Input: json.RawMessage(`{}`),
		}}},
		{Role: RoleTool, Content: []ContentBlock{{
			Type: BlockToolResult, ToolUseID: "call_1", Content: "3",
		}}},
	}

	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{
			name: "valid",
			req:  Request{Model: "gpt-4o", Messages: []Message{userText("hi")}},
		},
		{
			name: "valid tool conversation",
			req:  Request{Model: "gpt-4o", Messages: toolTurn},
		},
		{
			name:    "missing model",
			req:     Request{Messages: []Message{userText("hi")}},
			wantErr: "model is required",
		},
		{
			name:    "no messages",
			req:     Request{Model: "gpt-4o"},
			wantErr: "must not be empty",
		},
		{
			name: "first role not user",
			req: Request{Model: "gpt-4o", Messages: []Message{
				{Role: RoleAssistant, Content: []ContentBlock{TextBlock("hi")}},
			}},
			wantErr: "first message role",
		},
		{
			name: "empty content",
			req: Request{Model: "gpt-4o", Messages: []Message{
				{Role: RoleUser},
			}},
			wantErr: "has no content",
		},
		{
			name: "tool_result without id",
			req: Request{Model: "gpt-4o", Messages: []Message{
				userText("hi"),
				{Role: RoleTool, Content: []ContentBlock{{Type: BlockToolResult, Content: "3"}}},
			}},
			wantErr: "without tool_use_id",
		},
		{
			name: "tool_result references unknown call",
			req: Request{Model: "gpt-4o", Messages: []Message{
				userText("hi"),
				{Role: RoleTool, Content: []ContentBlock{{Type: BlockToolResult, ToolUseID: "call_9", Content: "3"}}},
			}},
			wantErr: "unknown tool_use id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseStreamEvent(t *testing.T) {
	evt, err := ParseStreamEvent([]byte(`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hi"}}`))
	if err != nil {
		t.Fatalf("ParseStreamEvent: %v", err)
	}
	if evt.Type != EventContentBlockDelta || evt.Index != 1 {
		t.Errorf("event = %+v", evt)
	}
	if evt.Delta == nil || evt.Delta.Text != "hi" {
		t.Errorf("delta = %+v", evt.Delta)
	}

	if _, err := ParseStreamEvent([]byte(`{"index":1}`)); err == nil {
		t.Error("accepted event without type")
	}
	if _, err := ParseStreamEvent([]byte(`not json`)); err == nil {
		t.Error("accepted malformed payload")
	}
}
