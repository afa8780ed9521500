package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	middleware "github.com/corpora-hq/corpora/internal/api/middlewares"
	"github.com/corpora-hq/corpora/internal/core/retriever"
)

// The rejection paths below fail before any collaborator is touched, so nil
// dependencies are safe.
func newBareChatHandler() *ChatHandler {
	return NewChatHandler(nil, nil, nil, retriever.Budget{}, 20, zap.NewNop())
}

func postJSON(t *testing.T, h http.HandlerFunc, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", strings.NewReader(body))
	if authenticated {
		req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestQueryDocumentsRequiresAuth(t *testing.T) {
	rec := postJSON(t, newBareChatHandler().QueryDocuments, `{"query":"q"}`, false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Error.Code)
}

func TestQueryDocumentsRejectsMalformedBody(t *testing.T) {
	rec := postJSON(t, newBareChatHandler().QueryDocuments, `{"query":`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Error.Code)
}

func TestQueryDocumentsRejectsEmptyQuery(t *testing.T) {
	rec := postJSON(t, newBareChatHandler().QueryDocuments, `{"query":"   "}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryDocumentsRejectsUnknownVisibility(t *testing.T) {
	rec := postJSON(t, newBareChatHandler().QueryDocuments, `{"query":"q","visibility":"internal"}`, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	got := decodeError(t, rec)
	assert.Equal(t, "invalid_request", got.Error.Code)
	assert.Contains(t, got.Error.Message, "internal")
}

func TestWriteErrorShape(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusConflict, "chunk", "status_conflict", "document is embedded")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "chunk", body["error"]["stage"])
	assert.Equal(t, "status_conflict", body["error"]["code"])
	assert.Equal(t, "document is embedded", body["error"]["message"])
}

func TestWriteErrorOmitsEmptyStage(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusNotFound, "", "not_found", "nope")

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	_, hasStage := body["error"]["stage"]
	assert.False(t, hasStage)
}
