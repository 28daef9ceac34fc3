package translate

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/yuegongzi/copilot-api/internal/anthropic"
	"github.com/yuegongzi/copilot-api/internal/canonical"
)

type anthropicBlock struct {
	kind   canonical.BlockType
	args   strings.Builder
	closed bool
}

// AnthropicStreamTranscoder rewrites backend stream events into Anthropic
// Messages SSE events. The two grammars line up almost one to one, so the
// transcoder's job is renaming, integrity checks and re-serialization. One
// instance serves one request and is not safe for concurrent use.
type AnthropicStreamTranscoder struct {
	sink   StreamSink
	logger *log.Logger

	state  transcoderState
	id     string
	model  string
	blocks map[int]*anthropicBlock
}

// NewAnthropicStreamTranscoder creates a transcoder for one streaming
// request. The model echoes what the client asked for.
func NewAnthropicStreamTranscoder(sink StreamSink, model string, logger *log.Logger) *AnthropicStreamTranscoder {
	return &AnthropicStreamTranscoder{
		sink:   sink,
		logger: logger,
		model:  model,
		id:     "msg_" + uuid.NewString(),
		blocks: map[int]*anthropicBlock{},
	}
}

// Done reports whether the stream reached a terminal state.
func (t *AnthropicStreamTranscoder) Done() bool {
	return t.state == stateFinished || t.state == stateErrored
}

// Feed consumes one backend event and writes the corresponding client frame.
// A returned error means the stream is unrecoverable; the caller should stop
// pulling and call Fail with a client-safe message.
func (t *AnthropicStreamTranscoder) Feed(evt canonical.StreamEvent) error {
	if t.Done() {
		return fmt.Errorf("event %q after stream end", evt.Type)
	}

	switch evt.Type {
	case canonical.EventPing:
		return t.write("ping", anthropic.StreamEvent{Type: "ping"})

	case canonical.EventMessageStart:
		if t.state != stateIdle {
			return &StreamIntegrityError{Reason: "duplicate message_start"}
		}
		t.state = stateStarted
		start := anthropic.MessageStart{
			ID:      t.id,
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []anthropic.ContentBlock{},
		}
		if evt.Message != nil {
			start.Usage.InputTokens = evt.Message.Usage.InputTokens
		}
		return t.write("message_start", anthropic.StreamEvent{
			Type:    "message_start",
			Message: &start,
		})

	case canonical.EventContentBlockStart:
		if err := t.requireStarted(evt.Type); err != nil {
			return err
		}
		if _, dup := t.blocks[evt.Index]; dup {
			return &StreamIntegrityError{Index: evt.Index, Reason: "duplicate content_block_start"}
		}
		block := &anthropicBlock{kind: canonical.BlockText}
		cb := anthropic.ContentBlock{Type: "text"}
		if evt.ContentBlock != nil && evt.ContentBlock.Type == canonical.BlockToolUse {
			block.kind = canonical.BlockToolUse
			cb = anthropic.ContentBlock{
				Type:  "tool_use",
				ID:    evt.ContentBlock.ID,
				Name:  evt.ContentBlock.Name,
				Input: json.RawMessage("{}"),
			}
		}
		t.blocks[evt.Index] = block
		idx := evt.Index
		return t.write("content_block_start", anthropic.StreamEvent{
			Type:         "content_block_start",
			Index:        &idx,
			ContentBlock: &cb,
		})

	case canonical.EventContentBlockDelta:
		block, err := t.openBlock(evt.Index)
		if err != nil {
			return err
		}
		if evt.Delta == nil {
			return &StreamIntegrityError{Index: evt.Index, Reason: "content_block_delta without delta"}
		}
		var delta anthropic.StreamDelta
		switch evt.Delta.Type {
		case canonical.DeltaText:
			if block.kind != canonical.BlockText {
				return &StreamIntegrityError{Index: evt.Index, Reason: "text_delta on non-text block"}
			}
			delta = anthropic.StreamDelta{Type: "text_delta", Text: evt.Delta.Text}
		case canonical.DeltaInputJSON:
			if block.kind != canonical.BlockToolUse {
				return &StreamIntegrityError{Index: evt.Index, Reason: "input_json_delta on non-tool block"}
			}
			block.args.WriteString(evt.Delta.PartialJSON)
			delta = anthropic.StreamDelta{Type: "input_json_delta", PartialJSON: evt.Delta.PartialJSON}
		default:
			return &StreamIntegrityError{Index: evt.Index, Reason: fmt.Sprintf("unknown delta type %q", evt.Delta.Type)}
		}
		idx := evt.Index
		return t.write("content_block_delta", anthropic.StreamEvent{
			Type:  "content_block_delta",
			Index: &idx,
			Delta: &delta,
		})

	case canonical.EventContentBlockStop:
		block, err := t.openBlock(evt.Index)
		if err != nil {
			return err
		}
		if block.kind == canonical.BlockToolUse && block.args.Len() > 0 {
			if !json.Valid([]byte(block.args.String())) {
				return &StreamIntegrityError{Index: evt.Index, Reason: "tool call arguments are not complete JSON"}
			}
		}
		block.closed = true
		idx := evt.Index
		return t.write("content_block_stop", anthropic.StreamEvent{
			Type:  "content_block_stop",
			Index: &idx,
		})

	case canonical.EventMessageDelta:
		if err := t.requireStarted(evt.Type); err != nil {
			return err
		}
		delta := anthropic.StreamDelta{StopReason: "end_turn"}
		if evt.Delta != nil {
			delta.StopReason = StopReasonAnthropic(evt.Delta.StopReason, t.logger)
			if evt.Delta.StopSequence != "" {
				seq := evt.Delta.StopSequence
				delta.StopSequence = &seq
			}
		}
		out := anthropic.StreamEvent{Type: "message_delta", Delta: &delta}
		if evt.Usage != nil {
			out.Usage = &anthropic.Usage{OutputTokens: evt.Usage.OutputTokens}
		}
		return t.write("message_delta", out)

	case canonical.EventMessageStop:
		if err := t.requireStarted(evt.Type); err != nil {
			return err
		}
		for idx, block := range t.blocks {
			if !block.closed {
				return &StreamIntegrityError{Index: idx, Reason: "block not closed at message_stop"}
			}
		}
		t.state = stateFinished
		return t.write("message_stop", anthropic.StreamEvent{Type: "message_stop"})

	case canonical.EventError:
		msg := "upstream stream error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		t.Fail(msg)
		return fmt.Errorf("upstream error event: %s", msg)

	default:
		t.warnf("skipping unknown stream event type %q", evt.Type)
		return nil
	}
}

// Fail writes a terminal error event in the Anthropic error shape. Safe to
// call after a Feed error; a stream that already ended is left alone.
func (t *AnthropicStreamTranscoder) Fail(message string) {
	if t.state == stateFinished || t.state == stateErrored {
		return
	}
	t.state = stateErrored
	err := t.write("error", anthropic.StreamEvent{
		Type:  "error",
		Error: &anthropic.ErrorDetail{Type: "api_error", Message: message},
	})
	if err != nil {
		t.warnf("writing stream error frame: %v", err)
	}
}

func (t *AnthropicStreamTranscoder) write(name string, evt anthropic.StreamEvent) error {
	return t.sink.WriteEvent(name, evt)
}

func (t *AnthropicStreamTranscoder) requireStarted(evt canonical.EventType) error {
	if t.state != stateStarted {
		return &StreamIntegrityError{Reason: fmt.Sprintf("%s before message_start", evt)}
	}
	return nil
}

func (t *AnthropicStreamTranscoder) openBlock(index int) (*anthropicBlock, error) {
	if t.state != stateStarted {
		return nil, &StreamIntegrityError{Index: index, Reason: "block event before message_start"}
	}
	block, ok := t.blocks[index]
	if !ok {
		return nil, &StreamIntegrityError{Index: index, Reason: "event for unopened block"}
	}
	if block.closed {
		return nil, &StreamIntegrityError{Index: index, Reason: "event for closed block"}
	}
	return block, nil
}

func (t *AnthropicStreamTranscoder) warnf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}
