package translate

import (
	"log"

	"github.com/yuegongzi/copilot-api/internal/canonical"
)

// Finite stop-reason mapping tables. An unmapped canonical reason falls back
// to the least surprising value for the target schema and is logged, never
// surfaced as a failure.

var openAIFinishReasons = map[canonical.StopReason]string{
	canonical.StopEndTurn:      "stop",
	canonical.StopMaxTokens:    "length",
	canonical.StopStopSequence: "stop",
	canonical.StopToolUse:      "tool_calls",
}

var anthropicStopReasons = map[canonical.StopReason]string{
	canonical.StopEndTurn:      "end_turn",
	canonical.StopMaxTokens:    "max_tokens",
	canonical.StopStopSequence: "stop_sequence",
	canonical.StopToolUse:      "tool_use",
}

// FinishReasonOpenAI translates a canonical stop reason into OpenAI's
// finish_reason vocabulary.
func FinishReasonOpenAI(reason canonical.StopReason, logger *log.Logger) string {
	if mapped, ok := openAIFinishReasons[reason]; ok {
		return mapped
	}
	if logger != nil {
		logger.Printf("unmapped stop reason %q, falling back to \"stop\"", reason)
	}
	return "stop"
}

// StopReasonAnthropic translates a canonical stop reason into Anthropic's
// stop_reason vocabulary.
func StopReasonAnthropic(reason canonical.StopReason, logger *log.Logger) string {
	if mapped, ok := anthropicStopReasons[reason]; ok {
		return mapped
	}
	if logger != nil {
		logger.Printf("unmapped stop reason %q, falling back to \"end_turn\"", reason)
	}
	return "end_turn"
}
