package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Conversation struct {
	ID        pgtype.UUID
	UserID    string
	CourseID  string
	CreatedAt pgtype.Timestamptz
	UpdatedAt pgtype.Timestamptz
}

type QueryRecord struct {
	ID             pgtype.UUID
	ConversationID pgtype.UUID
	SequenceNumber int32
	UserID         string
	CourseID       string
	Question       string
	Answer         string
	Citations      []byte
	CreatedAt      pgtype.Timestamptz
}

const createConversation = `
INSERT INTO conversations (user_id, course_id)
VALUES ($1, $2)
RETURNING id, user_id, course_id, created_at, updated_at
`

type CreateConversationParams struct {
	UserID   string
	CourseID string
}

func (q *Queries) CreateConversation(ctx context.Context, arg CreateConversationParams) (Conversation, error) {
	var c Conversation
	err := q.db.QueryRow(ctx, createConversation, arg.UserID, arg.CourseID).
		Scan(&c.ID, &c.UserID, &c.CourseID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

const getConversation = `
SELECT id, user_id, course_id, created_at, updated_at
FROM conversations WHERE id = $1
`

func (q *Queries) GetConversation(ctx context.Context, id pgtype.UUID) (Conversation, error) {
	var c Conversation
	err := q.db.QueryRow(ctx, getConversation, id).
		Scan(&c.ID, &c.UserID, &c.CourseID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// lockConversation serializes writers on one conversation so sequence
// numbers stay gapless under concurrent turns.
const lockConversation = `
SELECT id FROM conversations WHERE id = $1 FOR UPDATE
`

func (q *Queries) LockConversation(ctx context.Context, id pgtype.UUID) (pgtype.UUID, error) {
	var locked pgtype.UUID
	err := q.db.QueryRow(ctx, lockConversation, id).Scan(&locked)
	return locked, err
}

const getMaxSequenceNumber = `
SELECT COALESCE(MAX(sequence_number), 0) FROM query_records WHERE conversation_id = $1
`

func (q *Queries) GetMaxSequenceNumber(ctx context.Context, conversationID pgtype.UUID) (int32, error) {
	var maxSeq int32
	err := q.db.QueryRow(ctx, getMaxSequenceNumber, conversationID).Scan(&maxSeq)
	return maxSeq, err
}

const insertQueryRecord = `
INSERT INTO query_records
    (conversation_id, sequence_number, user_id, course_id, question, answer, citations)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, conversation_id, sequence_number, user_id, course_id,
          question, answer, citations, created_at
`

type InsertQueryRecordParams struct {
	ConversationID pgtype.UUID
	SequenceNumber int32
	UserID         string
	CourseID       string
	Question       string
	Answer         string
	Citations      []byte
}

func (q *Queries) InsertQueryRecord(ctx context.Context, arg InsertQueryRecordParams) (QueryRecord, error) {
	var r QueryRecord
	err := q.db.QueryRow(ctx, insertQueryRecord,
		arg.ConversationID, arg.SequenceNumber, arg.UserID, arg.CourseID,
		arg.Question, arg.Answer, arg.Citations).
		Scan(&r.ID, &r.ConversationID, &r.SequenceNumber, &r.UserID, &r.CourseID,
			&r.Question, &r.Answer, &r.Citations, &r.CreatedAt)
	return r, err
}

const touchConversation = `
UPDATE conversations SET updated_at = now() WHERE id = $1
`

func (q *Queries) TouchConversation(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, touchConversation, id)
	return err
}

// listQueryRecordsByUser filters are optional: an empty course id and a
// NULL conversation id match everything.
const listQueryRecordsByUser = `
SELECT id, conversation_id, sequence_number, user_id, course_id,
       question, answer, citations, created_at
FROM query_records
WHERE user_id = $1
  AND ($2::text = '' OR course_id = $2)
  AND ($3::uuid IS NULL OR conversation_id = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5
`

type ListQueryRecordsByUserParams struct {
	UserID         string
	CourseID       string
	ConversationID pgtype.UUID
	Limit          int32
	Offset         int32
}

func (q *Queries) ListQueryRecordsByUser(ctx context.Context, arg ListQueryRecordsByUserParams) ([]QueryRecord, error) {
	rows, err := q.db.Query(ctx, listQueryRecordsByUser,
		arg.UserID, arg.CourseID, arg.ConversationID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueryRecords(rows)
}

const listConversationTurns = `
SELECT id, conversation_id, sequence_number, user_id, course_id,
       question, answer, citations, created_at
FROM query_records
WHERE conversation_id = $1
ORDER BY sequence_number DESC
LIMIT $2
`

type ListConversationTurnsParams struct {
	ConversationID pgtype.UUID
	Limit          int32
}

func (q *Queries) ListConversationTurns(ctx context.Context, arg ListConversationTurnsParams) ([]QueryRecord, error) {
	rows, err := q.db.Query(ctx, listConversationTurns, arg.ConversationID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueryRecords(rows)
}

const getQueryRecord = `
SELECT id, conversation_id, sequence_number, user_id, course_id,
       question, answer, citations, created_at
FROM query_records WHERE id = $1
`

func (q *Queries) GetQueryRecord(ctx context.Context, id pgtype.UUID) (QueryRecord, error) {
	var r QueryRecord
	err := q.db.QueryRow(ctx, getQueryRecord, id).
		Scan(&r.ID, &r.ConversationID, &r.SequenceNumber, &r.UserID, &r.CourseID,
			&r.Question, &r.Answer, &r.Citations, &r.CreatedAt)
	return r, err
}

const deleteQueryRecord = `DELETE FROM query_records WHERE id = $1`

func (q *Queries) DeleteQueryRecord(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteQueryRecord, id)
	return tag.RowsAffected(), err
}

// Query records cascade via the conversation_id foreign key.
const deleteConversation = `DELETE FROM conversations WHERE id = $1`

func (q *Queries) DeleteConversation(ctx context.Context, id pgtype.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteConversation, id)
	return tag.RowsAffected(), err
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanQueryRecords(rows rowScanner) ([]QueryRecord, error) {
	var items []QueryRecord
	for rows.Next() {
		var r QueryRecord
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.SequenceNumber, &r.UserID,
			&r.CourseID, &r.Question, &r.Answer, &r.Citations, &r.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}
