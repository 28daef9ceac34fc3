package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/yuegongzi/copilot-api/internal/anthropic"
	"github.com/yuegongzi/copilot-api/internal/tokencount"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchemaError(w, translate.SchemaAnthropic, translate.Errorf("invalid request body: %v", err))
		return
	}

	backendReq, err := s.anthropic.ToBackend(req)
	if err != nil {
		writeSchemaError(w, translate.SchemaAnthropic, err)
		return
	}

	if req.Stream {
		sink, err := newSSEWriter(w)
		if err != nil {
			writeSchemaError(w, translate.SchemaAnthropic, err)
			return
		}
		tr := translate.NewAnthropicStreamTranscoder(sink, req.Model, s.logger)
		if err := s.completer.Stream(r.Context(), backendReq, translate.SchemaAnthropic, tr); err != nil {
			if !sink.started {
				writeSchemaError(w, translate.SchemaAnthropic, err)
			}
			s.logf("messages stream failed: %v", err)
		}
		return
	}

	resp, err := s.completer.Complete(r.Context(), backendReq, translate.SchemaAnthropic)
	if err != nil {
		writeSchemaError(w, translate.SchemaAnthropic, err)
		return
	}
	writeJSON(w, http.StatusOK, s.anthropic.FromBackend(resp, req.Model))
}

func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req anthropic.CountTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchemaError(w, translate.SchemaAnthropic, translate.Errorf("invalid request body: %v", err))
		return
	}

	// The mapper requires max_tokens on completion requests; counting has no
	// such field, so a placeholder satisfies the shared conversion path.
	backendReq, err := s.anthropic.ToBackend(anthropic.MessagesRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
		MaxTokens: 1,
	})
	if err != nil {
		writeSchemaError(w, translate.SchemaAnthropic, err)
		return
	}

	writeJSON(w, http.StatusOK, anthropic.CountTokensResponse{
		InputTokens: tokencount.EstimateRequest(backendReq),
	})
}
