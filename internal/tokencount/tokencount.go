// Package tokencount provides a heuristic token estimate for the
// count_tokens endpoint. The backend exposes no tokenizer, so the estimate
// follows the common ~4 characters per token rule plus a small per-message
// framing overhead.
package tokencount

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/yuegongzi/copilot-api/internal/canonical"
)

const (
	charsPerToken    = 4
	perMessageTokens = 3
)

// EstimateText estimates tokens for a plain string.
func EstimateText(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// EstimateRequest estimates the input tokens of a canonical request: system
// prompt, message content and tool declarations.
func EstimateRequest(req canonical.Request) int {
	total := EstimateText(req.System)
	for _, msg := range req.Messages {
		total += perMessageTokens
		for _, block := range msg.Content {
			total += estimateBlock(block)
		}
	}
	for _, tool := range req.Tools {
		total += EstimateText(tool.Name) + EstimateText(tool.Description)
		total += estimateJSON(tool.Schema)
	}
	return total
}

func estimateBlock(block canonical.ContentBlock) int {
	switch block.Type {
	case canonical.BlockText:
		return EstimateText(block.Text)
	case canonical.BlockToolUse:
		return EstimateText(block.Name) + estimateJSON(block.Input)
	case canonical.BlockToolResult:
		return EstimateText(block.Content)
	case canonical.BlockImage:
		// Flat charge per image; real vision token cost depends on
		// resolution, which the gateway does not inspect.
		return 85
	default:
		return 0
	}
}

func estimateJSON(raw json.RawMessage) int {
	return EstimateText(string(raw))
}
