package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	middleware "github.com/corpora-hq/corpora/internal/api/middlewares"
	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/core/retriever"
	"github.com/corpora-hq/corpora/internal/models"
)

const answerSystemPrompt = "You are an intelligent assistant answering based only on the given document content. If unsure, say 'I cannot find this in the document.'"

// ChatHandler answers questions over embedded documents.
type ChatHandler struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
	budget   retriever.Budget
	topK     int
	logger   *zap.Logger
}

func NewChatHandler(db core.DbClient, emb core.EmbeddingProvider, llm core.LLMProvider, budget retriever.Budget, topK int, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{db: db, embedder: emb, llm: llm, budget: budget, topK: topK, logger: logger}
}

type chatRequest struct {
	DocumentID string `json:"document_id,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Query      string `json:"query"`
}

// chunkRef identifies a chunk used to ground an answer.
type chunkRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float64 `json:"score"`
}

type chatResponse struct {
	Answer string     `json:"answer"`
	Chunks []chunkRef `json:"chunks"`
}

// QueryDocuments embeds the query, retrieves a token-budgeted context from
// the chunk index and asks the completion model for a grounded answer.
func (h *ChatHandler) QueryDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "", "unauthorized", "user_id not found in context")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "", "invalid_request", "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "", "invalid_request", "query is required")
		return
	}

	visibility := models.VisibilityPrivate
	if req.Visibility != "" {
		visibility, ok = models.ParseVisibility(req.Visibility)
		if !ok {
			writeError(w, http.StatusBadRequest, "", "invalid_request", fmt.Sprintf("unknown visibility %q", req.Visibility))
			return
		}
	}

	if req.DocumentID != "" {
		doc, err := h.db.GetDocumentByID(ctx, req.DocumentID)
		if err != nil {
			h.logger.Error("document lookup failed", zap.String("document_id", req.DocumentID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "", "db_error", "could not load the document")
			return
		}
		if doc == nil {
			writeError(w, http.StatusNotFound, "", "not_found", "document not found")
			return
		}
		if doc.Visibility == models.VisibilityPrivate && doc.OwnerID != userID {
			writeError(w, http.StatusForbidden, "", "forbidden", "you do not own this document")
			return
		}
		visibility = doc.Visibility
	}

	vecs, err := h.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		h.logger.Error("query embedding failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "", "embedding_failed", "could not embed the query")
		return
	}

	candidates, err := h.db.SearchChunks(ctx, visibility, req.DocumentID, vecs[0], h.topK)
	if err != nil {
		h.logger.Error("similarity search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "", "db_error", "similarity search failed")
		return
	}

	selected := retriever.SelectContext(candidates, h.budget)
	if len(selected) == 0 {
		writeJSON(w, http.StatusOK, chatResponse{
			Answer: "I cannot find this in the document.",
			Chunks: []chunkRef{},
		})
		return
	}

	var sb strings.Builder
	refs := make([]chunkRef, 0, len(selected))
	for _, c := range selected {
		sb.WriteString(c.Chunk.Content)
		sb.WriteString("\n---\n")
		refs = append(refs, chunkRef{
			ChunkID:    c.Chunk.ID,
			DocumentID: c.Chunk.DocumentID,
			ChunkIndex: c.Chunk.ChunkIndex,
			PageNumber: c.Chunk.PageNumber,
			Score:      c.Score,
		})
	}

	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", sb.String(), req.Query)
	answer, err := h.llm.Generate(ctx, answerSystemPrompt, userPrompt)
	if err != nil {
		h.logger.Error("completion failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "", "llm_failed", "completion provider failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer, Chunks: refs})
}
