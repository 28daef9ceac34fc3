package translate

// StreamSink receives the transcoded client-facing SSE frames. The HTTP
// layer implements it over a flushing response writer; tests implement it
// over a slice.
type StreamSink interface {
	// WriteEvent marshals payload as JSON and writes one SSE frame. A
	// non-empty name is emitted as the event: field; OpenAI frames pass "".
	WriteEvent(name string, payload any) error
	// WriteRaw writes one SSE frame with a literal data: payload.
	WriteRaw(data string) error
}
