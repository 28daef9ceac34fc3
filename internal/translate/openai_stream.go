package translate

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/openai"
)

type transcoderState int

const (
	stateIdle transcoderState = iota
	stateStarted
	stateFinished
	stateErrored
)

type openAIBlock struct {
	kind      canonical.BlockType
	toolIndex int
	id        string
	name      string
	args      strings.Builder
	closed    bool
}

// OpenAIStreamTranscoder rewrites backend stream events into OpenAI chat
// completion chunks, emitting each delta as soon as it arrives. One instance
// serves one request and is not safe for concurrent use.
type OpenAIStreamTranscoder struct {
	sink   StreamSink
	logger *log.Logger

	state    transcoderState
	id       string
	model    string
	created  int64
	usage    openai.Usage
	blocks   map[int]*openAIBlock
	numTools int
}

// NewOpenAIStreamTranscoder creates a transcoder for one streaming request.
// The model echoes what the client asked for.
func NewOpenAIStreamTranscoder(sink StreamSink, model string, logger *log.Logger) *OpenAIStreamTranscoder {
	return &OpenAIStreamTranscoder{
		sink:    sink,
		logger:  logger,
		model:   model,
		id:      "chatcmpl-" + uuid.NewString(),
		created: time.Now().Unix(),
		blocks:  map[int]*openAIBlock{},
	}
}

// Done reports whether the stream reached a terminal state.
func (t *OpenAIStreamTranscoder) Done() bool {
	return t.state == stateFinished || t.state == stateErrored
}

// Feed consumes one backend event and writes the corresponding client
// frame(s). A returned error means the stream is unrecoverable; the caller
// should stop pulling and call Fail with a client-safe message.
func (t *OpenAIStreamTranscoder) Feed(evt canonical.StreamEvent) error {
	if t.Done() {
		return fmt.Errorf("event %q after stream end", evt.Type)
	}

	switch evt.Type {
	case canonical.EventPing:
		return nil

	case canonical.EventMessageStart:
		if t.state != stateIdle {
			return &StreamIntegrityError{Reason: "duplicate message_start"}
		}
		t.state = stateStarted
		if evt.Message != nil {
			t.usage.PromptTokens = evt.Message.Usage.InputTokens
		}
		return t.writeChunk(openai.ChatMessageDelta{Role: "assistant"}, nil, nil)

	case canonical.EventContentBlockStart:
		if err := t.requireStarted(evt.Type); err != nil {
			return err
		}
		if _, dup := t.blocks[evt.Index]; dup {
			return &StreamIntegrityError{Index: evt.Index, Reason: "duplicate content_block_start"}
		}
		block := &openAIBlock{kind: canonical.BlockText}
		if evt.ContentBlock != nil {
			block.kind = evt.ContentBlock.Type
			block.id = evt.ContentBlock.ID
			block.name = evt.ContentBlock.Name
		}
		t.blocks[evt.Index] = block
		if block.kind == canonical.BlockToolUse {
			block.toolIndex = t.numTools
			t.numTools++
			return t.writeChunk(openai.ChatMessageDelta{
				ToolCalls: []openai.ToolCallDelta{{
					Index:    block.toolIndex,
					ID:       block.id,
					Type:     "function",
					Function: &openai.ToolFunctionPart{Name: block.name},
				}},
			}, nil, nil)
		}
		return nil

	case canonical.EventContentBlockDelta:
		block, err := t.openBlock(evt.Index)
		if err != nil {
			return err
		}
		if evt.Delta == nil {
			return &StreamIntegrityError{Index: evt.Index, Reason: "content_block_delta without delta"}
		}
		switch evt.Delta.Type {
		case canonical.DeltaText:
			if block.kind != canonical.BlockText {
				return &StreamIntegrityError{Index: evt.Index, Reason: "text_delta on non-text block"}
			}
			return t.writeChunk(openai.ChatMessageDelta{Content: evt.Delta.Text}, nil, nil)
		case canonical.DeltaInputJSON:
			if block.kind != canonical.BlockToolUse {
				return &StreamIntegrityError{Index: evt.Index, Reason: "input_json_delta on non-tool block"}
			}
			block.args.WriteString(evt.Delta.PartialJSON)
			return t.writeChunk(openai.ChatMessageDelta{
				ToolCalls: []openai.ToolCallDelta{{
					Index:    block.toolIndex,
					Function: &openai.ToolFunctionPart{Arguments: evt.Delta.PartialJSON},
				}},
			}, nil, nil)
		default:
			return &StreamIntegrityError{Index: evt.Index, Reason: fmt.Sprintf("unknown delta type %q", evt.Delta.Type)}
		}

	case canonical.EventContentBlockStop:
		block, err := t.openBlock(evt.Index)
		if err != nil {
			return err
		}
		if block.kind == canonical.BlockToolUse {
			args := block.args.String()
			if args == "" {
				args = "{}"
			}
			if !json.Valid([]byte(args)) {
				return &StreamIntegrityError{Index: evt.Index, Reason: "tool call arguments are not complete JSON"}
			}
		}
		block.closed = true
		return nil

	case canonical.EventMessageDelta:
		if err := t.requireStarted(evt.Type); err != nil {
			return err
		}
		if evt.Usage != nil {
			t.usage.CompletionTokens = evt.Usage.OutputTokens
			t.usage.TotalTokens = t.usage.PromptTokens + t.usage.CompletionTokens
		}
		reason := "stop"
		if evt.Delta != nil {
			reason = FinishReasonOpenAI(evt.Delta.StopReason, t.logger)
		}
		return t.writeChunk(openai.ChatMessageDelta{}, &reason, &t.usage)

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
		return t.sink.WriteRaw("[DONE]")

	case canonical.EventError:
		msg := "upstream stream error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		t.Fail(msg)
		return fmt.Errorf("upstream error event: %s", msg)

	default:
		// Unknown event types are skipped so backend additions stay
		// non-breaking.
		t.warnf("skipping unknown stream event type %q", evt.Type)
		return nil
	}
}

// Fail writes a terminal error frame in the OpenAI error shape. Safe to call
// after a Feed error; a stream that already ended is left alone.
func (t *OpenAIStreamTranscoder) Fail(message string) {
	if t.state == stateFinished || t.state == stateErrored {
		return
	}
	t.state = stateErrored
	err := t.sink.WriteEvent("", openai.ErrorResponse{
		Error: openai.ErrorDetail{Message: message, Type: "api_error"},
	})
	if err != nil {
		t.warnf("writing stream error frame: %v", err)
	}
}

func (t *OpenAIStreamTranscoder) writeChunk(delta openai.ChatMessageDelta, finish *string, usage *openai.Usage) error {
	return t.sink.WriteEvent("", openai.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []openai.ChatCompletionChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
		Usage: usage,
	})
}

func (t *OpenAIStreamTranscoder) requireStarted(evt canonical.EventType) error {
	if t.state != stateStarted {
		return &StreamIntegrityError{Reason: fmt.Sprintf("%s before message_start", evt)}
	}
	return nil
}

func (t *OpenAIStreamTranscoder) openBlock(index int) (*openAIBlock, error) {
	if err := t.requireStarted(canonical.EventContentBlockDelta); err != nil {
		return nil, err
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

func (t *OpenAIStreamTranscoder) warnf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}
