package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"
)

const upsertChunk = `
INSERT INTO chunks (course_id, document_id, position, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (course_id, document_id, position) DO UPDATE SET
    content   = EXCLUDED.content,
    metadata  = EXCLUDED.metadata,
    embedding = EXCLUDED.embedding
`

type UpsertChunkParams struct {
	CourseID   string
	DocumentID string
	Position   int32
	Content    string
	Metadata   []byte
	Embedding  pgvector.Vector
}

func (q *Queries) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	_, err := q.db.Exec(ctx, upsertChunk,
		arg.CourseID, arg.DocumentID, arg.Position, arg.Content, arg.Metadata, arg.Embedding)
	return err
}

// searchChunks orders by cosine distance ascending (= similarity descending)
// with id as a deterministic tie-break. The NULL check lets callers skip the
// metadata containment filter.
const searchChunks = `
SELECT id, course_id, document_id, position, content, metadata,
       1 - (embedding <=> $1) AS similarity
FROM chunks
WHERE course_id = $2
  AND ($3::jsonb IS NULL OR metadata @> $3)
  AND 1 - (embedding <=> $1) >= $4
ORDER BY embedding <=> $1, id
LIMIT $5
`

type SearchChunksParams struct {
	Embedding     pgvector.Vector
	CourseID      string
	Metadata      []byte // nil skips the metadata filter
	MinSimilarity float64
	Limit         int32
}

type SearchChunksRow struct {
	ID         pgtype.UUID
	CourseID   string
	DocumentID string
	Position   int32
	Content    string
	Metadata   []byte
	Similarity float64
}

func (q *Queries) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := q.db.Query(ctx, searchChunks,
		arg.Embedding, arg.CourseID, arg.Metadata, arg.MinSimilarity, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SearchChunksRow
	for rows.Next() {
		var r SearchChunksRow
		if err := rows.Scan(&r.ID, &r.CourseID, &r.DocumentID, &r.Position,
			&r.Content, &r.Metadata, &r.Similarity); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const deleteChunk = `DELETE FROM chunks WHERE id = $1`

func (q *Queries) DeleteChunk(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteChunk, id)
	return tag.RowsAffected(), err
}

const deleteChunksByDocument = `
DELETE FROM chunks WHERE course_id = $1 AND document_id = $2
`

type DeleteChunksByDocumentParams struct {
	CourseID   string
	DocumentID string
}

func (q *Queries) DeleteChunksByDocument(ctx context.Context, arg DeleteChunksByDocumentParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteChunksByDocument, arg.CourseID, arg.DocumentID)
	return tag.RowsAffected(), err
}

// deleteChunkTail drops a document's chunks at or past a position. Used when
// a re-ingested document produces fewer chunks than its previous revision.
const deleteChunkTail = `
DELETE FROM chunks
WHERE course_id = $1 AND document_id = $2 AND position >= $3
`

type DeleteChunkTailParams struct {
	CourseID     string
	DocumentID   string
	FromPosition int32
}

func (q *Queries) DeleteChunkTail(ctx context.Context, arg DeleteChunkTailParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteChunkTail, arg.CourseID, arg.DocumentID, arg.FromPosition)
	return tag.RowsAffected(), err
}

const countChunksByCourse = `SELECT COUNT(*) FROM chunks WHERE course_id = $1`

func (q *Queries) CountChunksByCourse(ctx context.Context, courseID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countChunksByCourse, courseID).Scan(&n)
	return n, err
}
