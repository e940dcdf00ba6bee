package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rogerjeasy/hslu-rag-backend/internal/course"
)

// CourseLister lists the courses a user is enrolled in.
type CourseLister interface {
	ListForUser(ctx context.Context, userID string) ([]course.Course, error)
}

type courseHandler struct {
	courses CourseLister
	logger  *slog.Logger
}

type courseResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// list handles GET /api/v1/courses.
func (h *courseHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user_required", "missing user identity")
		return
	}

	courses, err := h.courses.ListForUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}

	out := make([]courseResponse, len(courses))
	for i, c := range courses {
		out[i] = courseResponse{
			ID:          c.ID,
			Title:       c.Title,
			Description: c.Description,
			CreatedAt:   c.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": out})
}
