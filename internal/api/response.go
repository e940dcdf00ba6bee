package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rogerjeasy/hslu-rag-backend/internal/course"
	"github.com/rogerjeasy/hslu-rag-backend/internal/embedding"
	"github.com/rogerjeasy/hslu-rag-backend/internal/generation"
	"github.com/rogerjeasy/hslu-rag-backend/internal/history"
	"github.com/rogerjeasy/hslu-rag-backend/internal/query"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
// Uses buffer-first strategy to ensure headers are only sent after successful
// encoding, so an encoding failure can still become a proper 500.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		slog.Debug("failed to write response body", "error", err)
	}
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps pipeline errors onto HTTP statuses and stable error
// codes. Unrecognized errors become an opaque 500 so internal details never
// leak to clients.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	switch {
	case errors.Is(err, course.ErrForbiddenScope):
		writeError(w, http.StatusForbidden, "forbidden_scope", "you are not enrolled in this course")
	case errors.Is(err, course.ErrCourseNotFound):
		writeError(w, http.StatusNotFound, "course_not_found", "course does not exist")
	case errors.Is(err, history.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation_not_found", "conversation does not exist")
	case errors.Is(err, history.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record_not_found", "query record does not exist")
	case errors.Is(err, history.ErrNotOwner):
		// Hide existence of other users' resources.
		writeError(w, http.StatusNotFound, "record_not_found", "query record does not exist")
	case errors.Is(err, query.ErrConversationMismatch):
		writeError(w, http.StatusConflict, "conversation_mismatch", "conversation belongs to a different course")
	case errors.Is(err, query.ErrNoContext):
		writeError(w, http.StatusUnprocessableEntity, "no_context", "no relevant course material found for this question")
	case errors.Is(err, generation.ErrContentRejected):
		writeError(w, http.StatusUnprocessableEntity, "content_rejected", "the question was rejected by the model provider")
	case errors.Is(err, generation.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "provider_unavailable", "the model provider is temporarily unavailable")
	case errors.Is(err, query.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", "the query did not complete within its time budget")
	case errors.Is(err, embedding.ErrEmbedding):
		writeError(w, http.StatusBadGateway, "embedding_failed", "embedding the question failed")
	case errors.Is(err, vectorstore.ErrVectorStore):
		writeError(w, http.StatusBadGateway, "vector_store_failed", "searching course material failed")
	case errors.Is(err, generation.ErrGeneration):
		writeError(w, http.StatusBadGateway, "generation_failed", "generating the answer failed")
	case errors.Is(err, history.ErrPersistence):
		writeError(w, http.StatusServiceUnavailable, "persistence_failed", "saving the query failed")
	default:
		logger.Error("unhandled request error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
