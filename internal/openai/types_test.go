package openai

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessageContentMarshal(t *testing.T) {
	tests := []struct {
		name    string
		content MessageContent
		want    string
	}{
		{"plain string", MessageContent{Text: "hello"}, `"hello"`},
		{"empty is null", MessageContent{}, `null`},
		{
			"parts array",
			MessageContent{Parts: []ContentPart{{Type: "text", Text: "hi"}}},
			`[{"type":"text","text":"hi"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.content)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal = %s, want %s", data, tt.want)
			}
		})
	}
}

// Assistant messages carrying only tool calls serialize with content: null,
// not an empty string.
func TestChatMessageToolCallsOnly(t *testing.T) {
	msg := ChatMessage{
		Role: "assistant",
		ToolCalls: []ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: FunctionCall{Name: "compute", Arguments: `{"a":1}`},
		}},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"content":null`) {
		t.Errorf("message = %s, want content:null", data)
	}
}

func TestMessageContentUnmarshal(t *testing.T) {
	var c MessageContent
	if err := json.Unmarshal([]byte(`"hi there"`), &c); err != nil {
		t.Fatalf("Unmarshal string: %v", err)
	}
	if c.Text != "hi there" || len(c.Parts) != 0 {
		t.Errorf("content = %+v", c)
	}

	if err := json.Unmarshal([]byte(`[{"type":"text","text":"hi"}]`), &c); err != nil {
		t.Fatalf("Unmarshal parts: %v", err)
	}
	if len(c.Parts) != 1 || c.Parts[0].Text != "hi" {
		t.Errorf("parts = %+v", c.Parts)
	}

	if err := json.Unmarshal([]byte(`42`), &c); err == nil {
		t.Error("accepted numeric content")
	}
}
