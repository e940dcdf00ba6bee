package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Course struct {
	ID          string
	Title       string
	Description string
	CreatedAt   pgtype.Timestamptz
}

const getCourse = `
SELECT id, title, description, created_at FROM courses WHERE id = $1
`

func (q *Queries) GetCourse(ctx context.Context, id string) (Course, error) {
	var c Course
	err := q.db.QueryRow(ctx, getCourse, id).Scan(&c.ID, &c.Title, &c.Description, &c.CreatedAt)
	return c, err
}

const createCourse = `
INSERT INTO courses (id, title, description)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, description = EXCLUDED.description
`

type CreateCourseParams struct {
	ID          string
	Title       string
	Description string
}

func (q *Queries) CreateCourse(ctx context.Context, arg CreateCourseParams) error {
	_, err := q.db.Exec(ctx, createCourse, arg.ID, arg.Title, arg.Description)
	return err
}

const enrollUser = `
INSERT INTO course_enrollments (course_id, user_id)
VALUES ($1, $2)
ON CONFLICT (course_id, user_id) DO NOTHING
`

type EnrollUserParams struct {
	CourseID string
	UserID   string
}

func (q *Queries) EnrollUser(ctx context.Context, arg EnrollUserParams) error {
	_, err := q.db.Exec(ctx, enrollUser, arg.CourseID, arg.UserID)
	return err
}

const isEnrolled = `
SELECT EXISTS (
    SELECT 1 FROM course_enrollments WHERE course_id = $1 AND user_id = $2
)
`

type IsEnrolledParams struct {
	CourseID string
	UserID   string
}

func (q *Queries) IsEnrolled(ctx context.Context, arg IsEnrolledParams) (bool, error) {
	var enrolled bool
	err := q.db.QueryRow(ctx, isEnrolled, arg.CourseID, arg.UserID).Scan(&enrolled)
	return enrolled, err
}

const listCoursesForUser = `
SELECT c.id, c.title, c.description, c.created_at
FROM courses c
JOIN course_enrollments e ON e.course_id = c.id
WHERE e.user_id = $1
ORDER BY c.id
`

func (q *Queries) ListCoursesForUser(ctx context.Context, userID string) ([]Course, error) {
	rows, err := q.db.Query(ctx, listCoursesForUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
