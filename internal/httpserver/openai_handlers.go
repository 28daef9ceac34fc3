package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yuegongzi/copilot-api/internal/openai"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSchemaError(w, translate.SchemaOpenAI, translate.Errorf("invalid request body: %v", err))
		return
	}

	backendReq, err := s.openai.ToBackend(req)
	if err != nil {
		writeSchemaError(w, translate.SchemaOpenAI, err)
		return
	}

	if req.Stream {
		sink, err := newSSEWriter(w)
		if err != nil {
			writeSchemaError(w, translate.SchemaOpenAI, err)
			return
		}
		tr := translate.NewOpenAIStreamTranscoder(sink, req.Model, s.logger)
		if err := s.completer.Stream(r.Context(), backendReq, translate.SchemaOpenAI, tr); err != nil {
			// Before the first frame the error still fits a plain JSON
			// response; afterwards the transcoder has emitted it in-band.
			if !sink.started {
				writeSchemaError(w, translate.SchemaOpenAI, err)
			}
			s.logf("chat completion stream failed: %v", err)
		}
		return
	}

	resp, err := s.completer.Complete(r.Context(), backendReq, translate.SchemaOpenAI)
	if err != nil {
		writeSchemaError(w, translate.SchemaOpenAI, err)
		return
	}
	writeJSON(w, http.StatusOK, s.openai.FromBackend(resp, req.Model))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	infos, err := s.models.List(r.Context())
	if err != nil {
		writeSchemaError(w, translate.SchemaOpenAI, err)
		return
	}
	out := openai.ModelList{Object: "list", Data: make([]openai.Model, 0, len(infos))}
	created := time.Now().Unix()
	for _, info := range infos {
		out.Data = append(out.Data, openai.Model{
			ID:      info.ID,
			Object:  "model",
			Created: created,
			OwnedBy: "system",
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "model")
	infos, err := s.models.List(r.Context())
	if err != nil {
		writeSchemaError(w, translate.SchemaOpenAI, err)
		return
	}
	for _, info := range infos {
		if info.ID == id {
			writeJSON(w, http.StatusOK, openai.Model{
				ID:      info.ID,
				Object:  "model",
				Created: time.Now().Unix(),
				OwnedBy: "system",
			})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, openai.ErrorResponse{
		Error: openai.ErrorDetail{
			Message: "model not found: " + id,
			Type:    "invalid_request_error",
			Code:    "model_not_found",
		},
	})
}
