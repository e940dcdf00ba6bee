package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rogerjeasy/hslu-rag-backend/internal/assembler"
	"github.com/rogerjeasy/hslu-rag-backend/internal/history"
	"github.com/rogerjeasy/hslu-rag-backend/internal/query"
)

const (
	maxQueryBodyBytes  = 64 << 10
	maxQuestionLength  = 8000
	defaultHistorySize = 20
	maxHistorySize     = 100
)

// QueryRunner executes one scoped question through the pipeline.
type QueryRunner interface {
	Execute(ctx context.Context, req query.Request) (*query.Result, error)
}

// HistoryStore lists and deletes a user's past queries and conversations.
type HistoryStore interface {
	ListByUser(ctx context.Context, userID string, filter history.ListFilter) ([]history.Record, error)
	Delete(ctx context.Context, recordID uuid.UUID, userID string) error
	DeleteConversation(ctx context.Context, conversationID uuid.UUID, userID string) error
}

type queryHandler struct {
	runner QueryRunner
	store  HistoryStore
	logger *slog.Logger
}

// queryRequest is the POST /api/v1/queries body.
type queryRequest struct {
	CourseID       string `json:"course_id"`
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// queryResponse is the answer payload.
type queryResponse struct {
	Answer         string               `json:"answer"`
	Citations      []assembler.Citation `json:"citations"`
	ConversationID string               `json:"conversation_id"`
	RecordID       string               `json:"record_id"`
}

// recordResponse is one history entry in list responses.
type recordResponse struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	SequenceNumber int                  `json:"sequence_number"`
	CourseID       string               `json:"course_id"`
	Question       string               `json:"question"`
	Answer         string               `json:"answer"`
	Citations      []assembler.Citation `json:"citations"`
	CreatedAt      time.Time            `json:"created_at"`
}

// submit handles POST /api/v1/queries.
func (h *queryHandler) submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "missing user identity")
		return
	}

	var body queryRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	if body.CourseID == "" {
		writeError(w, http.StatusBadRequest, "course_required", "course_id is required")
		return
	}
	if body.Question == "" {
		writeError(w, http.StatusBadRequest, "question_required", "question is required")
		return
	}
	if len(body.Question) > maxQuestionLength {
		writeError(w, http.StatusBadRequest, "question_too_long", "question exceeds maximum length")
		return
	}

	req := query.Request{
		UserID:   userID,
		CourseID: body.CourseID,
		Question: body.Question,
	}
	if body.ConversationID != "" {
		convID, err := uuid.Parse(body.ConversationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_conversation_id", "conversation_id must be a UUID")
			return
		}
		req.ConversationID = convID
	}

	result, err := h.runner.Execute(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Answer:         result.Answer,
		Citations:      result.Citations,
		ConversationID: result.ConversationID.String(),
		RecordID:       result.RecordID.String(),
	})
}

// list handles GET /api/v1/queries.
func (h *queryHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "missing user identity")
		return
	}

	limit := queryInt(r, "limit", defaultHistorySize)
	if limit < 1 || limit > maxHistorySize {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
		return
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must not be negative")
		return
	}

	filter := history.ListFilter{
		CourseID: r.URL.Query().Get("course_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := r.URL.Query().Get("conversation_id"); raw != "" {
		convID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_conversation_id", "conversation_id must be a UUID")
			return
		}
		filter.ConversationID = convID
	}

	records, err := h.store.ListByUser(r.Context(), userID, filter)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	out := make([]recordResponse, len(records))
	for i, rec := range records {
		out[i] = recordResponse{
			ID:             rec.ID.String(),
			ConversationID: rec.ConversationID.String(),
			SequenceNumber: rec.SequenceNumber,
			CourseID:       rec.CourseID,
			Question:       rec.Question,
			Answer:         rec.Answer,
			Citations:      rec.Citations,
			CreatedAt:      rec.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": out})
}

// remove handles DELETE /api/v1/queries/{id}.
func (h *queryHandler) remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "missing user identity")
		return
	}

	recordID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "record id must be a UUID")
		return
	}

	if err := h.store.Delete(r.Context(), recordID, userID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// removeConversation handles DELETE /api/v1/conversations/{id}. Deleting a
// conversation removes all of its query records.
func (h *queryHandler) removeConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "missing user identity")
		return
	}

	conversationID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "conversation id must be a UUID")
		return
	}

	if err := h.store.DeleteConversation(r.Context(), conversationID, userID); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
