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

// OpenAIMapper converts OpenAI chat completion payloads to and from the
// canonical model. Both directions are pure; the logger only receives
// diagnostics for dropped content and fallback mappings.
type OpenAIMapper struct {
	logger *log.Logger
}

// NewOpenAIMapper creates a mapper.
func NewOpenAIMapper(logger *log.Logger) *OpenAIMapper {
	return &OpenAIMapper{logger: logger}
}

// ToBackend maps a decoded OpenAI request into a canonical request. System
// and developer messages are hoisted into the canonical top-level system
// field; untranslatable content is dropped with a warning unless nothing
// translatable remains.
func (m *OpenAIMapper) ToBackend(req openai.ChatCompletionRequest) (canonical.Request, error) {
	if len(req.Messages) == 0 {
		return canonical.Request{}, Errorf("messages must not be empty")
	}

	out := canonical.Request{
		Model:         req.Model,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
		Metadata:      req.Metadata,
	}
	out.MaxTokens = req.MaxCompletionTokens
	if out.MaxTokens == 0 {
		out.MaxTokens = req.MaxTokens
	}

	var system []string
	for i, msg := range req.Messages {
		switch msg.Role {
		case "system", "developer":
			if text := flattenOpenAIContent(msg.Content); text != "" {
				system = append(system, text)
			}
		case "user", "assistant":
			converted, err := m.convertOpenAIMessage(i, msg)
			if err != nil {
				return canonical.Request{}, err
			}
			if len(converted.Content) == 0 {
				m.warnf("dropping message %d: no translatable content", i)
				continue
			}
			out.Messages = append(out.Messages, converted)
		case "tool":
			if msg.ToolCallID == "" {
				return canonical.Request{}, Errorf("message %d: tool message without tool_call_id", i)
			}
			out.Messages = append(out.Messages, canonical.Message{
				Role: canonical.RoleTool,
				Content: []canonical.ContentBlock{{
					Type:      canonical.BlockToolResult,
					ToolUseID: msg.ToolCallID,
					Content:   flattenOpenAIContent(msg.Content),
				}},
			})
		default:
			return canonical.Request{}, Errorf("message %d: unsupported role %q", i, msg.Role)
		}
	}
	out.System = strings.Join(system, "\n\n")
	if len(out.Messages) == 0 {
		return canonical.Request{}, Errorf("no translatable messages after conversion")
	}

	for _, tool := range req.Tools {
		if tool.Type != "function" {
			m.warnf("dropping unsupported tool type %q", tool.Type)
			continue
		}
		spec := canonical.ToolSpec{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Schema:      tool.Function.Parameters,
		}
		if len(spec.Schema) == 0 {
			spec.Schema = canonical.EmptyObjectSchema
		}
		out.Tools = append(out.Tools, spec)
	}
	return out, nil
}

// FromBackend maps a canonical response into the OpenAI response shape.
// The model echoes what the client asked for, not the backend's alias.
func (m *OpenAIMapper) FromBackend(resp canonical.Response, model string) openai.ChatCompletionResponse {
	msg := openai.ChatMessage{Role: "assistant"}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case canonical.BlockText:
			text.WriteString(block.Text)
		case canonical.BlockToolUse:
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: openai.FunctionCall{Name: block.Name, Arguments: args},
			})
		default:
			m.warnf("dropping response block type %q: not representable in chat completions", block.Type)
		}
	}
	msg.Content = openai.MessageContent{Text: text.String()}

	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return openai.ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			FinishReason: FinishReasonOpenAI(resp.StopReason, m.logger),
			Message:      msg,
		}},
		Usage: openai.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func (m *OpenAIMapper) convertOpenAIMessage(idx int, msg openai.ChatMessage) (canonical.Message, error) {
	role := canonical.RoleUser
	if msg.Role == "assistant" {
		role = canonical.RoleAssistant
	}
	out := canonical.Message{Role: role}

	if msg.Content.Text != "" {
		out.Content = append(out.Content, canonical.TextBlock(msg.Content.Text))
	}
	for _, part := range msg.Content.Parts {
		switch part.Type {
		case "text":
			out.Content = append(out.Content, canonical.TextBlock(part.Text))
		case "image_url":
			if part.ImageURL == nil || part.ImageURL.URL == "" {
				return canonical.Message{}, Errorf("message %d: image_url part without url", idx)
			}
			block, err := imageBlockFromURL(part.ImageURL.URL)
			if err != nil {
				return canonical.Message{}, Errorf("message %d: %v", idx, err)
			}
			out.Content = append(out.Content, block)
		default:
			m.warnf("message %d: dropping unsupported content part %q", idx, part.Type)
		}
	}
	for _, tc := range msg.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out.Content = append(out.Content, canonical.ContentBlock{
			Type:  canonical.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	return out, nil
}

// imageBlockFromURL preserves the client's image encoding verbatim: data:
// URIs stay base64, plain URLs stay URLs.
func imageBlockFromURL(url string) (canonical.ContentBlock, error) {
	if !strings.HasPrefix(url, "data:") {
		return canonical.ContentBlock{
			Type:   canonical.BlockImage,
			Source: &canonical.ImageSource{Encoding: "url", Data: url},
		}, nil
	}
	// data:<media_type>;base64,<payload>
	rest := strings.TrimPrefix(url, "data:")
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return canonical.ContentBlock{}, fmt.Errorf("malformed data URI")
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == meta {
		return canonical.ContentBlock{}, fmt.Errorf("data URI without base64 encoding")
	}
	return canonical.ContentBlock{
		Type: canonical.BlockImage,
		Source: &canonical.ImageSource{
			Encoding:  "base64",
			MediaType: mediaType,
			Data:      payload,
		},
	}, nil
}

func flattenOpenAIContent(content openai.MessageContent) string {
	if content.Text != "" {
		return content.Text
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func (m *OpenAIMapper) warnf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
