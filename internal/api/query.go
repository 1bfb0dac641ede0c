package api

import (
	"context"
	"encoding/json"
	"net/http"

	"delphi/internal/workflow"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// QueryResponse mirrors workflow.Result on the wire.
type QueryResponse struct {
	Answer     string               `json:"answer"`
	Artifacts  []workflow.Artifact  `json:"artifacts"`
	Status     string               `json:"status"`
	RetryCount int                  `json:"retry_count"`
	Quality    *workflow.Assessment `json:"quality,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// QueryEngine is the part of the workflow engine the API needs.
type QueryEngine interface {
	HandleQuery(ctx context.Context, sessionID, rawQuery string) (*workflow.Result, error)
}

// QueryHandler exposes the workflow engine over HTTP.
type QueryHandler struct {
	engine QueryEngine
	log    *logger.Logger
}

// NewQueryHandler creates a query handler.
func NewQueryHandler(engine QueryEngine) *QueryHandler {
	return &QueryHandler{
		engine: engine,
		log:    logger.Get().With("component", "query_handler"),
	}
}

// ServeHTTP handles POST /v1/query.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	result, err := h.engine.HandleQuery(r.Context(), req.SessionID, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, errors.ErrUnavailable):
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		default:
			h.log.Errorf("Query handling failed: session=%s error=%v", req.SessionID, err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	artifacts := result.Artifacts
	if artifacts == nil {
		artifacts = []workflow.Artifact{}
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Answer:     result.Answer,
		Artifacts:  artifacts,
		Status:     result.Status.String(),
		RetryCount: result.RetryCount,
		Quality:    result.Quality,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
