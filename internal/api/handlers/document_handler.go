package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	middleware "github.com/corpora-hq/corpora/internal/api/middlewares"
	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

const maxUploadBytes = 52 << 20

// DocumentHandler owns the upload and listing endpoints.
type DocumentHandler struct {
	db     core.DbClient
	obj    core.ObjectClient
	logger *zap.Logger
}

func NewDocumentHandler(db core.DbClient, obj core.ObjectClient, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{db: db, obj: obj, logger: logger}
}

// UploadDocument stores the binary and registers the document as pending.
// Processing happens asynchronously: the next pipeline run picks it up.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "", "unauthorized", "user_id not found in context")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid_request", "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid_request", "missing file field")
		return
	}
	defer file.Close()

	visibility := models.VisibilityPrivate
	if v := r.FormValue("visibility"); v != "" {
		visibility, ok = models.ParseVisibility(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "", "invalid_request", fmt.Sprintf("unknown visibility %q", v))
			return
		}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// filepath.Base strips any path components a client smuggles in.
	cleanName := filepath.Base(header.Filename)
	docID := uuid.NewString()
	ref := models.DocumentRef{
		Visibility: visibility,
		StorageKey: fmt.Sprintf("%s/%s/%s", userID, docID, cleanName),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	if err := h.obj.Upload(ctx, ref, file, contentType); err != nil {
		h.logger.Error("upload failed", zap.String("storage_key", ref.StorageKey), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "", "upload_failed", "could not store the file")
		return
	}

	now := time.Now()
	doc := &models.Document{
		ID:          docID,
		OwnerID:     userID,
		Visibility:  visibility,
		StorageKey:  ref.StorageKey,
		FileName:    cleanName,
		ContentType: contentType,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.db.CreateDocument(ctx, doc); err != nil {
		h.logger.Error("document insert failed", zap.String("document_id", docID), zap.Error(err))
		// Don't leave an orphaned binary behind an unregistered document.
		if delErr := h.obj.Delete(ctx, ref); delErr != nil {
			h.logger.Warn("orphan cleanup failed", zap.String("storage_key", ref.StorageKey), zap.Error(delErr))
		}
		writeError(w, http.StatusInternalServerError, "", "db_error", "could not register the document")
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// GetDocuments lists the caller's documents with their pipeline status.
func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "", "unauthorized", "user_id not found in context")
		return
	}

	docs, err := h.db.ListDocumentsByOwner(r.Context(), userID)
	if err != nil {
		h.logger.Error("list documents failed", zap.String("owner_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "", "db_error", "could not list documents")
		return
	}

	writeJSON(w, http.StatusOK, docs)
}
