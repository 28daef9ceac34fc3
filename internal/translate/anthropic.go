package translate

import (
	"encoding/json"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/yuegongzi/copilot-api/internal/anthropic"
	"github.com/yuegongzi/copilot-api/internal/canonical"
)

// AnthropicMapper converts Anthropic Messages payloads to and from the
// canonical model. The two schemas are close cousins, so most of the work is
// field renaming plus flattening of structured tool results.
type AnthropicMapper struct {
	logger *log.Logger
}

// NewAnthropicMapper creates a mapper.
func NewAnthropicMapper(logger *log.Logger) *AnthropicMapper {
	return &AnthropicMapper{logger: logger}
}

// ToBackend maps a decoded Messages request into a canonical request.
func (m *AnthropicMapper) ToBackend(req anthropic.MessagesRequest) (canonical.Request, error) {
	if len(req.Messages) == 0 {
		return canonical.Request{}, Errorf("messages must not be empty")
	}
	if req.MaxTokens <= 0 {
		return canonical.Request{}, Errorf("max_tokens must be a positive integer")
	}

	out := canonical.Request{
		Model:         req.Model,
		System:        string(req.System),
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
		Metadata:      req.Metadata,
	}

	for i, msg := range req.Messages {
		converted, err := m.convertAnthropicMessage(i, msg)
		if err != nil {
			return canonical.Request{}, err
		}
		if len(converted.Content) == 0 {
			m.warnf("dropping message %d: no translatable content", i)
			continue
		}
		out.Messages = append(out.Messages, converted)
	}
	if len(out.Messages) == 0 {
		return canonical.Request{}, Errorf("no translatable messages after conversion")
	}

	for _, tool := range req.Tools {
		spec := canonical.ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      tool.InputSchema,
		}
		if len(spec.Schema) == 0 {
			spec.Schema = canonical.EmptyObjectSchema
		}
		out.Tools = append(out.Tools, spec)
	}
	return out, nil
}

// FromBackend maps a canonical response into the Messages response shape.
func (m *AnthropicMapper) FromBackend(resp canonical.Response, model string) anthropic.MessagesResponse {
	out := anthropic.MessagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []anthropic.ContentBlock{},
		StopReason: StopReasonAnthropic(resp.StopReason, m.logger),
		Usage: anthropic.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	if out.ID == "" {
		out.ID = "msg_" + uuid.NewString()
	}
	if resp.StopSequence != "" {
		seq := resp.StopSequence
		out.StopSequence = &seq
	}
	for _, block := range resp.Content {
		switch block.Type {
		case canonical.BlockText:
			out.Content = append(out.Content, anthropic.ContentBlock{Type: "text", Text: block.Text})
		case canonical.BlockToolUse:
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out.Content = append(out.Content, anthropic.ContentBlock{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		default:
			m.warnf("dropping response block type %q: not representable in messages", block.Type)
		}
	}
	return out
}

func (m *AnthropicMapper) convertAnthropicMessage(idx int, msg anthropic.Message) (canonical.Message, error) {
	var role canonical.Role
	switch msg.Role {
	case "user":
		role = canonical.RoleUser
	case "assistant":
		role = canonical.RoleAssistant
	default:
		return canonical.Message{}, Errorf("message %d: unsupported role %q", idx, msg.Role)
	}
	out := canonical.Message{Role: role}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content = append(out.Content, canonical.TextBlock(block.Text))
		case "image":
			if block.Source == nil {
				return canonical.Message{}, Errorf("message %d: image block without source", idx)
			}
			converted, err := imageSourceToCanonical(*block.Source)
			if err != nil {
				return canonical.Message{}, Errorf("message %d: %v", idx, err)
			}
			out.Content = append(out.Content, converted)
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out.Content = append(out.Content, canonical.ContentBlock{
				Type:  canonical.BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		case "tool_result":
			if block.ToolUseID == "" {
				return canonical.Message{}, Errorf("message %d: tool_result without tool_use_id", idx)
			}
			out.Content = append(out.Content, canonical.ContentBlock{
				Type:      canonical.BlockToolResult,
				ToolUseID: block.ToolUseID,
				Content:   flattenToolResult(block.Content),
				IsError:   block.IsError,
			})
		default:
			m.warnf("message %d: dropping unsupported block type %q", idx, block.Type)
		}
	}

	// tool_result turns ride in user messages on the Anthropic side but are a
	// distinct role upstream. A turn mixing tool results with other content
	// keeps the tool role; the backend accepts text alongside results.
	if role == canonical.RoleUser {
		for _, b := range out.Content {
			if b.Type == canonical.BlockToolResult {
				out.Role = canonical.RoleTool
				break
			}
		}
	}
	return out, nil
}

func imageSourceToCanonical(src anthropic.ImageSource) (canonical.ContentBlock, error) {
	switch src.Type {
	case "base64":
		if src.Data == "" {
			return canonical.ContentBlock{}, Errorf("base64 image without data")
		}
		return canonical.ContentBlock{
			Type: canonical.BlockImage,
			Source: &canonical.ImageSource{
				Encoding:  "base64",
				MediaType: src.MediaType,
				Data:      src.Data,
			},
		}, nil
	case "url":
		if src.URL == "" {
			return canonical.ContentBlock{}, Errorf("url image without url")
		}
		return canonical.ContentBlock{
			Type:   canonical.BlockImage,
			Source: &canonical.ImageSource{Encoding: "url", Data: src.URL},
		}, nil
	default:
		return canonical.ContentBlock{}, Errorf("unsupported image source type %q", src.Type)
	}
}

// flattenToolResult reduces Anthropic's string-or-blocks tool_result content
// to the plain string the backend expects.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, blk := range blocks {
			if blk.Type == "text" {
				b.WriteString(blk.Text)
			}
		}
		return b.String()
	}
	return string(raw)
}

func (m *AnthropicMapper) warnf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
