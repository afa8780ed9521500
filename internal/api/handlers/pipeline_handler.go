package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/corpora-hq/corpora/internal/core/pipeline"
	"github.com/corpora-hq/corpora/internal/logger"
)

// PipelineHandler exposes the ingestion triggers: per-document stage runs,
// the cron-facing continue-processing endpoint and manual retry.
type PipelineHandler struct {
	orch   *pipeline.Orchestrator
	logger *zap.Logger
}

func NewPipelineHandler(orch *pipeline.Orchestrator, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{orch: orch, logger: logger}
}

type stageRequest struct {
	DocumentID string `json:"document_id"`
}

// RunStage handles POST /api/pipeline/{stage} for a single document. Caller
// input errors are rejected before any state is touched.
func (h *PipelineHandler) RunStage(stage pipeline.Stage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, string(stage), "invalid_request", "malformed JSON body")
			return
		}
		if req.DocumentID == "" {
			writeError(w, http.StatusBadRequest, string(stage), "invalid_request", "document_id is required")
			return
		}

		err := h.orch.ProcessStage(r.Context(), stage, req.DocumentID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{
				"document_id": req.DocumentID,
				"stage":       string(stage),
				"result":      "ok",
			})
		case errors.Is(err, pipeline.ErrDocumentNotFound):
			writeError(w, http.StatusNotFound, string(stage), "not_found", "document not found")
		case errors.Is(err, pipeline.ErrStatusConflict):
			writeError(w, http.StatusConflict, string(stage), "status_conflict", err.Error())
		case errors.Is(err, pipeline.ErrNoChunksFound):
			writeError(w, http.StatusConflict, string(stage), "no_chunks", err.Error())
		default:
			h.logger.Error("stage trigger failed",
				zap.String("stage", string(stage)),
				zap.String("document_id", req.DocumentID),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, string(stage), "stage_failed", err.Error())
		}
	}
}

// ContinueProcessing runs one full orchestrator pass and returns its summary.
func (h *PipelineHandler) ContinueProcessing(w http.ResponseWriter, r *http.Request) {
	summary, err := h.orch.Run(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("pipeline run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "", "run_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Retry re-enters a dead-lettered document into the pipeline.
func (h *PipelineHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid_request", "malformed JSON body")
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "", "invalid_request", "document_id is required")
		return
	}

	status, err := h.orch.Retry(r.Context(), req.DocumentID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"document_id": req.DocumentID,
			"status":      string(status),
		})
	case errors.Is(err, pipeline.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "", "not_found", "document not found")
	case errors.Is(err, pipeline.ErrStatusConflict):
		writeError(w, http.StatusConflict, "", "status_conflict", err.Error())
	default:
		h.logger.Error("retry failed", zap.String("document_id", req.DocumentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "", "retry_failed", err.Error())
	}
}
