// Package course resolves courses and enforces enrollment scope.
// Identity comes from the trusted boundary; this package only answers
// whether a given user may query a given course.
package course

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rogerjeasy/hslu-rag-backend/internal/postgres"
)

var (
	// ErrCourseNotFound indicates the course does not exist.
	ErrCourseNotFound = errors.New("course not found")

	// ErrForbiddenScope indicates the user is not enrolled in the course.
	ErrForbiddenScope = errors.New("forbidden course scope")
)

// Course is a course a student can query against.
type Course struct {
	ID          string
	Title       string
	Description string
	CreatedAt   time.Time
}

// Querier defines the database operations the service needs.
type Querier interface {
	GetCourse(ctx context.Context, id string) (postgres.Course, error)
	IsEnrolled(ctx context.Context, arg postgres.IsEnrolledParams) (bool, error)
	ListCoursesForUser(ctx context.Context, userID string) ([]postgres.Course, error)
}

// Service answers course and enrollment lookups. Safe for concurrent use.
type Service struct {
	queries Querier
	logger  *slog.Logger
}

// New creates a Service.
func New(queries Querier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queries: queries, logger: logger}
}

// Get returns a course by id.
func (s *Service) Get(ctx context.Context, id string) (*Course, error) {
	row, err := s.queries.GetCourse(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, id)
		}
		return nil, fmt.Errorf("getting course %s: %w", id, err)
	}
	c := rowToCourse(row)
	return &c, nil
}

// Authorize checks that userID may query courseID. Returns ErrCourseNotFound
// for unknown courses and ErrForbiddenScope when the user is not enrolled.
func (s *Service) Authorize(ctx context.Context, courseID, userID string) error {
	if _, err := s.Get(ctx, courseID); err != nil {
		return err
	}

	enrolled, err := s.queries.IsEnrolled(ctx, postgres.IsEnrolledParams{
		CourseID: courseID,
		UserID:   userID,
	})
	if err != nil {
		return fmt.Errorf("checking enrollment: %w", err)
	}
	if !enrolled {
		s.logger.Warn("scope check rejected",
			"course_id", courseID,
			"user_id", userID)
		return fmt.Errorf("%w: user %s is not enrolled in %s", ErrForbiddenScope, userID, courseID)
	}
	return nil
}

// ListForUser returns the courses userID is enrolled in.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Course, error) {
	rows, err := s.queries.ListCoursesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing courses for %s: %w", userID, err)
	}
	courses := make([]Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, rowToCourse(row))
	}
	return courses, nil
}

func rowToCourse(row postgres.Course) Course {
	return Course{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		CreatedAt:   row.CreatedAt.Time,
	}
}
