package copilot

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/yuegongzi/copilot-api/internal/canonical"
)

// StreamReader decodes the backend's SSE frames into canonical stream
// events. It is a pull-based lazy sequence: Next blocks only while awaiting
// the next upstream frame, so downstream consumption paces the connection.
type StreamReader struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

// NewStreamReader wraps an SSE response body.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	return &StreamReader{
		body:   body,
		reader: bufio.NewReader(body),
	}
}

// Next returns the next backend event. It returns io.EOF after message_stop
// or when the upstream closes the connection cleanly. Ping events are
// filtered out.
func (s *StreamReader) Next() (canonical.StreamEvent, error) {
	if s.done {
		return canonical.StreamEvent{}, io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return canonical.StreamEvent{}, io.EOF
			}
			return canonical.StreamEvent{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			// The event name is repeated inside the data payload.
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			s.done = true
			return canonical.StreamEvent{}, io.EOF
		}
		evt, err := canonical.ParseStreamEvent([]byte(payload))
		if err != nil {
			s.done = true
			return canonical.StreamEvent{}, err
		}
		if evt.Type == canonical.EventPing {
			continue
		}
		if evt.Type == canonical.EventMessageStop {
			s.done = true
		}
		return evt, nil
	}
}

// Close releases the underlying connection.
func (s *StreamReader) Close() error {
	return s.body.Close()
}
