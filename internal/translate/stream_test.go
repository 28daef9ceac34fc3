package translate

import (
	"encoding/json"
	"testing"

	"github.com/yuegongzi/copilot-api/internal/anthropic"
	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/openai"
)

type sinkFrame struct {
	name string
	data string
}

type recordingSink struct {
	frames []sinkFrame
}

func (s *recordingSink) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, sinkFrame{name: name, data: string(data)})
	return nil
}

func (s *recordingSink) WriteRaw(data string) error {
	s.frames = append(s.frames, sinkFrame{data: data})
	return nil
}

func feedAll(t *testing.T, feed func(canonical.StreamEvent) error, events []canonical.StreamEvent) {
	t.Helper()
	for i, evt := range events {
		if err := feed(evt); err != nil {
			t.Fatalf("event %d (%s): %v", i, evt.Type, err)
		}
	}
}

// toolCallStream is the canonical three-fragment tool-call scenario: a text
// block followed by a tool_use block whose arguments arrive in three
// input_json_delta fragments.
func toolCallStream() []canonical.StreamEvent {
	return []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{
			ID: "cmpl-1", Role: canonical.RoleAssistant, Usage: canonical.Usage{InputTokens: 11},
		}},
		{Type: canonical.EventContentBlockStart, Index: 0, ContentBlock: &canonical.ContentBlock{Type: canonical.BlockText}},
		{Type: canonical.EventContentBlockDelta, Index: 0, Delta: &canonical.Delta{Type: canonical.DeltaText, Text: "Let me check."}},
		{Type: canonical.EventContentBlockStop, Index: 0},
		{Type: canonical.EventContentBlockStart, Index: 1, ContentBlock: &canonical.ContentBlock{
			Type: canonical.BlockToolUse, ID: "call_7", Name: "compute",
		}},
		{Type: canonical.EventContentBlockDelta, Index: 1, Delta: &canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: `{"a":`}},
		{Type: canonical.EventContentBlockDelta, Index: 1, Delta: &canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: `1,"b":`}},
		{Type: canonical.EventContentBlockDelta, Index: 1, Delta: &canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: `2}`}},
		{Type: canonical.EventContentBlockStop, Index: 1},
		{Type: canonical.EventMessageDelta, Delta: &canonical.Delta{StopReason: canonical.StopToolUse}, Usage: &canonical.Usage{OutputTokens: 9}},
		{Type: canonical.EventMessageStop},
	}
}

func TestOpenAIStreamTranscoder_ToolCallScenario(t *testing.T) {
	sink := &recordingSink{}
	tr := NewOpenAIStreamTranscoder(sink, "gpt-4o", nil)
	feedAll(t, tr.Feed, toolCallStream())

	if !tr.Done() {
		t.Fatal("transcoder should be done after message_stop")
	}
	last := sink.frames[len(sink.frames)-1]
	if last.data != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", last.data)
	}

	var chunks []openai.ChatCompletionChunk
	for _, f := range sink.frames[:len(sink.frames)-1] {
		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(f.data), &chunk); err != nil {
			t.Fatalf("decode chunk %q: %v", f.data, err)
		}
		chunks = append(chunks, chunk)
	}

	// role, text, tool start, 3 argument fragments, finish
	if len(chunks) != 7 {
		t.Fatalf("expected 7 chunks, got %d", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Errorf("first chunk role = %q", chunks[0].Choices[0].Delta.Role)
	}
	if chunks[1].Choices[0].Delta.Content != "Let me check." {
		t.Errorf("text chunk = %+v", chunks[1].Choices[0].Delta)
	}

	start := chunks[2].Choices[0].Delta.ToolCalls[0]
	if start.ID != "call_7" || start.Type != "function" || start.Function.Name != "compute" {
		t.Errorf("tool start = %+v", start)
	}
	var args string
	for _, c := range chunks[3:6] {
		tc := c.Choices[0].Delta.ToolCalls[0]
		if tc.Index != 0 {
			t.Errorf("tool index = %d", tc.Index)
		}
		args += tc.Function.Arguments
	}
	if args != `{"a":1,"b":2}` {
		t.Errorf("reassembled arguments = %q", args)
	}

	finish := chunks[6]
	if finish.Choices[0].FinishReason == nil || *finish.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish chunk = %+v", finish.Choices[0])
	}
	if finish.Usage == nil || finish.Usage.TotalTokens != 20 {
		t.Errorf("usage = %+v", finish.Usage)
	}

	// id/model stable across every chunk
	for i, c := range chunks {
		if c.ID != chunks[0].ID || c.Model != "gpt-4o" || c.Object != "chat.completion.chunk" {
			t.Errorf("chunk %d envelope = %+v", i, c)
		}
	}
}

func TestOpenAIStreamTranscoder_DeltaForUnopenedBlock(t *testing.T) {
	sink := &recordingSink{}
	tr := NewOpenAIStreamTranscoder(sink, "gpt-4o", nil)
	feedAll(t, tr.Feed, []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{ID: "x"}},
	})

	err := tr.Feed(canonical.StreamEvent{
		Type:  canonical.EventContentBlockDelta,
		Index: 3,
		Delta: &canonical.Delta{Type: canonical.DeltaText, Text: "hi"},
	})
	if !IsStreamIntegrityError(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestOpenAIStreamTranscoder_IncompleteToolJSON(t *testing.T) {
	sink := &recordingSink{}
	tr := NewOpenAIStreamTranscoder(sink, "gpt-4o", nil)
	feedAll(t, tr.Feed, []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{ID: "x"}},
		{Type: canonical.EventContentBlockStart, Index: 0, ContentBlock: &canonical.ContentBlock{
			Type: canonical.BlockToolUse, ID: "call_1", Name: "f",
		}},
		{Type: canonical.EventContentBlockDelta, Index: 0, Delta: &canonical.Delta{Type: canonical.DeltaInputJSON, PartialJSON: `{"a":`}},
	})

	err := tr.Feed(canonical.StreamEvent{Type: canonical.EventContentBlockStop, Index: 0})
	if !IsStreamIntegrityError(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}

	tr.Fail("stream translation failed")
	if !tr.Done() {
		t.Error("transcoder should be done after Fail")
	}
	last := sink.frames[len(sink.frames)-1]
	var errResp openai.ErrorResponse
	if err := json.Unmarshal([]byte(last.data), &errResp); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if errResp.Error.Message != "stream translation failed" {
		t.Errorf("error frame = %+v", errResp)
	}
}

func TestOpenAIStreamTranscoder_UpstreamError(t *testing.T) {
	sink := &recordingSink{}
	tr := NewOpenAIStreamTranscoder(sink, "gpt-4o", nil)
	feedAll(t, tr.Feed, []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{ID: "x"}},
	})

	err := tr.Feed(canonical.StreamEvent{
		Type:  canonical.EventError,
		Error: &canonical.ErrorInfo{Type: "overloaded", Message: "backend overloaded"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !tr.Done() {
		t.Error("transcoder should be done after upstream error")
	}
}

func TestAnthropicStreamTranscoder_ToolCallScenario(t *testing.T) {
	sink := &recordingSink{}
	tr := NewAnthropicStreamTranscoder(sink, "claude-sonnet-4", nil)
	feedAll(t, tr.Feed, toolCallStream())

	if !tr.Done() {
		t.Fatal("transcoder should be done after message_stop")
	}

	wantOrder := []string{
		"message_start",
		"content_block_start", "content_block_delta", "content_block_stop",
		"content_block_start", "content_block_delta", "content_block_delta", "content_block_delta", "content_block_stop",
		"message_delta", "message_stop",
	}
	if len(sink.frames) != len(wantOrder) {
		t.Fatalf("expected %d frames, got %d", len(wantOrder), len(sink.frames))
	}
	for i, f := range sink.frames {
		if f.name != wantOrder[i] {
			t.Errorf("frame %d = %q, want %q", i, f.name, wantOrder[i])
		}
	}

	var start anthropic.StreamEvent
	if err := json.Unmarshal([]byte(sink.frames[0].data), &start); err != nil {
		t.Fatalf("decode message_start: %v", err)
	}
	if start.Message == nil || start.Message.Role != "assistant" || start.Message.Usage.InputTokens != 11 {
		t.Errorf("message_start = %+v", start.Message)
	}

	var toolStart anthropic.StreamEvent
	if err := json.Unmarshal([]byte(sink.frames[4].data), &toolStart); err != nil {
		t.Fatalf("decode content_block_start: %v", err)
	}
	if toolStart.ContentBlock == nil || toolStart.ContentBlock.Type != "tool_use" || toolStart.ContentBlock.ID != "call_7" {
		t.Errorf("tool content_block_start = %+v", toolStart.ContentBlock)
	}
	if toolStart.Index == nil || *toolStart.Index != 1 {
		t.Errorf("tool block index = %v", toolStart.Index)
	}

	var args string
	for _, f := range sink.frames[5:8] {
		var evt anthropic.StreamEvent
		if err := json.Unmarshal([]byte(f.data), &evt); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		if evt.Delta.Type != "input_json_delta" {
			t.Errorf("delta type = %q", evt.Delta.Type)
		}
		args += evt.Delta.PartialJSON
	}
	if args != `{"a":1,"b":2}` {
		t.Errorf("reassembled arguments = %q", args)
	}

	var md anthropic.StreamEvent
	if err := json.Unmarshal([]byte(sink.frames[9].data), &md); err != nil {
		t.Fatalf("decode message_delta: %v", err)
	}
	if md.Delta == nil || md.Delta.StopReason != "tool_use" {
		t.Errorf("message_delta = %+v", md.Delta)
	}
	if md.Usage == nil || md.Usage.OutputTokens != 9 {
		t.Errorf("message_delta usage = %+v", md.Usage)
	}
}

func TestAnthropicStreamTranscoder_FailWritesErrorEvent(t *testing.T) {
	sink := &recordingSink{}
	tr := NewAnthropicStreamTranscoder(sink, "claude-sonnet-4", nil)
	feedAll(t, tr.Feed, []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{ID: "x"}},
	})

	tr.Fail("upstream connection lost")
	last := sink.frames[len(sink.frames)-1]
	if last.name != "error" {
		t.Fatalf("last frame name = %q", last.name)
	}
	var evt anthropic.StreamEvent
	if err := json.Unmarshal([]byte(last.data), &evt); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if evt.Error == nil || evt.Error.Message != "upstream connection lost" {
		t.Errorf("error event = %+v", evt)
	}
	if err := tr.Feed(canonical.StreamEvent{Type: canonical.EventMessageStop}); err == nil {
		t.Error("Feed after Fail should error")
	}
}

func TestAnthropicStreamTranscoder_DuplicateBlockStart(t *testing.T) {
	sink := &recordingSink{}
	tr := NewAnthropicStreamTranscoder(sink, "claude-sonnet-4", nil)
	feedAll(t, tr.Feed, []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{ID: "x"}},
		{Type: canonical.EventContentBlockStart, Index: 0, ContentBlock: &canonical.ContentBlock{Type: canonical.BlockText}},
	})

	err := tr.Feed(canonical.StreamEvent{
		Type: canonical.EventContentBlockStart, Index: 0,
		ContentBlock: &canonical.ContentBlock{Type: canonical.BlockText},
	})
	if !IsStreamIntegrityError(err) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}
