// Package translate converts between the client-facing schemas (OpenAI chat
// completions, Anthropic messages) and the backend's canonical model, for
// whole requests/responses and for streaming events.
package translate

import (
	"errors"
	"fmt"
)

// Schema tags the client wire format a request arrived in.
type Schema string

const (
	SchemaOpenAI    Schema = "openai"
	SchemaAnthropic Schema = "anthropic"
)

// TranslationError reports a client or backend payload that cannot be
// mapped. It is always surfaced to the caller in the client's own error
// shape, never silently dropped.
type TranslationError struct {
	Reason string
}

func (e *TranslationError) Error() string {
	return "translation: " + e.Reason
}

// Errorf builds a TranslationError.
func Errorf(format string, args ...any) error {
	return &TranslationError{Reason: fmt.Sprintf(format, args...)}
}

// IsTranslationError reports whether err is a TranslationError.
func IsTranslationError(err error) bool {
	var te *TranslationError
	return errors.As(err, &te)
}

// StreamIntegrityError reports tool-call arguments that did not form
// complete JSON by the block's stop event. It terminates the stream with an
// explicit error event instead of a silent truncation.
type StreamIntegrityError struct {
	Index  int
	Reason string
}

func (e *StreamIntegrityError) Error() string {
	return fmt.Sprintf("stream integrity: block %d: %s", e.Index, e.Reason)
}

// IsStreamIntegrityError reports whether err is a StreamIntegrityError.
func IsStreamIntegrityError(err error) bool {
	var se *StreamIntegrityError
	return errors.As(err, &se)
}
