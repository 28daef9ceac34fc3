package httpserver

import (
	"net/http"

	"github.com/yuegongzi/copilot-api/internal/anthropic"
	"github.com/yuegongzi/copilot-api/internal/gateway"
	"github.com/yuegongzi/copilot-api/internal/openai"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

// openAIErrorType maps the gateway error classification onto OpenAI's error
// type vocabulary.
func openAIErrorType(kind gateway.ErrorKind) string {
	switch kind {
	case gateway.KindInvalidRequest:
		return "invalid_request_error"
	case gateway.KindRateLimited:
		return "rate_limit_error"
	case gateway.KindAuth:
		return "authentication_error"
	case gateway.KindNoAccount:
		return "server_error"
	default:
		return "api_error"
	}
}

func writeOpenAIError(w http.ResponseWriter, ge *gateway.Error) {
	writeJSON(w, ge.Status, openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: ge.Message,
			Type:    openAIErrorType(ge.Kind),
		},
	})
}

func writeAnthropicError(w http.ResponseWriter, ge *gateway.Error) {
	writeJSON(w, ge.Status, anthropic.ErrorResponse{
		Type: "error",
		Error: anthropic.ErrorDetail{
			Type:    string(ge.Kind),
			Message: ge.Message,
		},
	})
}

// writeSchemaError renders the failure in the schema the request arrived in.
func writeSchemaError(w http.ResponseWriter, schema translate.Schema, err error) {
	ge := gateway.AsError(err)
	if translate.IsTranslationError(err) {
		ge = &gateway.Error{
			Kind:    gateway.KindInvalidRequest,
			Status:  http.StatusBadRequest,
			Message: err.Error(),
		}
	}
	if schema == translate.SchemaAnthropic {
		writeAnthropicError(w, ge)
		return
	}
	writeOpenAIError(w, ge)
}
