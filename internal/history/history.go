// Package history persists conversations and their query records.
//
// Writes within one conversation are serialized with a row lock so sequence
// numbers are gapless and a later turn always observes every earlier
// persisted turn. Reads verify ownership before returning or deleting
// anything.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rogerjeasy/hslu-rag-backend/internal/assembler"
	"github.com/rogerjeasy/hslu-rag-backend/internal/postgres"
)

var (
	// ErrPersistence is the base error for storage failures.
	ErrPersistence = errors.New("persistence failed")

	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrRecordNotFound indicates the query record does not exist.
	ErrRecordNotFound = errors.New("query record not found")

	// ErrNotOwner indicates the record or conversation belongs to another user.
	ErrNotOwner = errors.New("not the owner")
)

// Conversation groups related query turns.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	CourseID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record is one persisted question/answer turn.
type Record struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SequenceNumber int
	UserID         string
	CourseID       string
	Question       string
	Answer         string
	Citations      []assembler.Citation
	CreatedAt      time.Time
}

// Querier defines the database operations the store needs.
// Interfaces are defined by the consumer, not the provider.
type Querier interface {
	CreateConversation(ctx context.Context, arg postgres.CreateConversationParams) (postgres.Conversation, error)
	GetConversation(ctx context.Context, id pgtype.UUID) (postgres.Conversation, error)
	LockConversation(ctx context.Context, id pgtype.UUID) (pgtype.UUID, error)
	GetMaxSequenceNumber(ctx context.Context, conversationID pgtype.UUID) (int32, error)
	InsertQueryRecord(ctx context.Context, arg postgres.InsertQueryRecordParams) (postgres.QueryRecord, error)
	TouchConversation(ctx context.Context, id pgtype.UUID) error
	ListQueryRecordsByUser(ctx context.Context, arg postgres.ListQueryRecordsByUserParams) ([]postgres.QueryRecord, error)
	ListConversationTurns(ctx context.Context, arg postgres.ListConversationTurnsParams) ([]postgres.QueryRecord, error)
	GetQueryRecord(ctx context.Context, id pgtype.UUID) (postgres.QueryRecord, error)
	DeleteQueryRecord(ctx context.Context, id pgtype.UUID) (int64, error)
	DeleteConversation(ctx context.Context, id pgtype.UUID) (int64, error)
}

// ListFilter narrows a user's record listing. Zero values match everything.
type ListFilter struct {
	CourseID       string    // empty matches all courses
	ConversationID uuid.UUID // uuid.Nil matches all conversations
	Limit          int
	Offset         int
}

// Store manages conversation history. Safe for concurrent use.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // transaction support; nil in mocked tests
	logger  *slog.Logger
}

// New creates a Store.
//
// Example (production):
//
//	store := history.New(postgres.New(pool), pool, logger)
//
// Example (testing with mock):
//
//	store := history.New(mockQuerier, nil, logger)
func New(querier Querier, pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{querier: querier, pool: pool, logger: logger}
}

// CreateConversation starts a new conversation for a user in a course.
func (s *Store) CreateConversation(ctx context.Context, userID, courseID string) (*Conversation, error) {
	row, err := s.querier.CreateConversation(ctx, postgres.CreateConversationParams{
		UserID:   userID,
		CourseID: courseID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating conversation: %w", ErrPersistence, err)
	}
	conv := rowToConversation(row)
	s.logger.Debug("created conversation",
		"conversation_id", conv.ID,
		"course_id", courseID)
	return &conv, nil
}

// GetConversation returns a conversation, checking the caller owns it.
func (s *Store) GetConversation(ctx context.Context, id uuid.UUID, userID string) (*Conversation, error) {
	row, err := s.querier.GetConversation(ctx, uuidToPg(id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("%w: getting conversation: %w", ErrPersistence, err)
	}
	if row.UserID != userID {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotOwner, id)
	}
	conv := rowToConversation(row)
	return &conv, nil
}

// RecordTurn appends one question/answer turn to a conversation. A zero
// conversationID starts a new conversation in the same transaction, so a
// failed turn never leaves an empty conversation row behind.
//
// The conversation row is locked for the duration of the transaction so
// concurrent turns in the same conversation serialize and sequence numbers
// stay dense. The caller must already have validated scope; ownership of
// the conversation is still verified here.
func (s *Store) RecordTurn(ctx context.Context, conversationID uuid.UUID, userID, courseID, question, answer string, citations []assembler.Citation) (*Record, error) {
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling citations: %w", ErrPersistence, err)
	}
	if citations == nil {
		citationsJSON = []byte("[]")
	}

	// Mocked tests have no pool; run without a transaction.
	if s.pool == nil {
		return s.recordTurnWith(ctx, s.querier, conversationID, userID, courseID, question, answer, citationsJSON)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: beginning transaction: %w", ErrPersistence, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	record, err := s.recordTurnWith(ctx, postgres.New(tx), conversationID, userID, courseID, question, answer, citationsJSON)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: committing turn: %w", ErrPersistence, err)
	}
	return record, nil
}

// recordTurnWith does the locked append using the given querier, which is a
// transaction-bound Queries in production.
func (s *Store) recordTurnWith(ctx context.Context, q Querier, conversationID uuid.UUID, userID, courseID, question, answer string, citationsJSON []byte) (*Record, error) {
	if conversationID == uuid.Nil {
		// Fresh conversation, created in the same transaction as its first
		// turn. No ownership check needed: the row is ours by construction.
		row, err := q.CreateConversation(ctx, postgres.CreateConversationParams{
			UserID:   userID,
			CourseID: courseID,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: creating conversation: %w", ErrPersistence, err)
		}
		conversationID = pgToUUID(row.ID)
	} else {
		conv, err := q.GetConversation(ctx, uuidToPg(conversationID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
			}
			return nil, fmt.Errorf("%w: loading conversation: %w", ErrPersistence, err)
		}
		if conv.UserID != userID {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotOwner, conversationID)
		}
	}

	if _, err := q.LockConversation(ctx, uuidToPg(conversationID)); err != nil {
		return nil, fmt.Errorf("%w: locking conversation: %w", ErrPersistence, err)
	}

	maxSeq, err := q.GetMaxSequenceNumber(ctx, uuidToPg(conversationID))
	if err != nil {
		return nil, fmt.Errorf("%w: reading sequence number: %w", ErrPersistence, err)
	}

	row, err := q.InsertQueryRecord(ctx, postgres.InsertQueryRecordParams{
		ConversationID: uuidToPg(conversationID),
		SequenceNumber: maxSeq + 1,
		UserID:         userID,
		CourseID:       courseID,
		Question:       question,
		Answer:         answer,
		Citations:      citationsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: inserting query record: %w", ErrPersistence, err)
	}

	if err := q.TouchConversation(ctx, uuidToPg(conversationID)); err != nil {
		return nil, fmt.Errorf("%w: touching conversation: %w", ErrPersistence, err)
	}

	record, err := rowToRecord(row)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("recorded turn",
		"conversation_id", conversationID,
		"sequence", record.SequenceNumber)
	return &record, nil
}

// ListByUser returns a user's query records, newest first, optionally
// narrowed by course or conversation.
func (s *Store) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]Record, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	conversationID := pgtype.UUID{}
	if filter.ConversationID != uuid.Nil {
		conversationID = uuidToPg(filter.ConversationID)
	}
	rows, err := s.querier.ListQueryRecordsByUser(ctx, postgres.ListQueryRecordsByUserParams{
		UserID:         userID,
		CourseID:       filter.CourseID,
		ConversationID: conversationID,
		Limit:          int32(limit),
		Offset:         int32(filter.Offset),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %w", ErrPersistence, err)
	}
	return rowsToRecords(rows)
}

// ConversationTurns returns the last n turns of a conversation in
// chronological order, verifying the caller owns it.
func (s *Store) ConversationTurns(ctx context.Context, conversationID uuid.UUID, userID string, n int) ([]Record, error) {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if n < 1 {
		n = 5
	}

	rows, err := s.querier.ListConversationTurns(ctx, postgres.ListConversationTurnsParams{
		ConversationID: uuidToPg(conversationID),
		Limit:          int32(n),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing turns: %w", ErrPersistence, err)
	}

	records, err := rowsToRecords(rows)
	if err != nil {
		return nil, err
	}
	// The query returns newest first; callers want chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Delete removes a single query record owned by userID.
func (s *Store) Delete(ctx context.Context, recordID uuid.UUID, userID string) error {
	row, err := s.querier.GetQueryRecord(ctx, uuidToPg(recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
		}
		return fmt.Errorf("%w: loading record: %w", ErrPersistence, err)
	}
	if row.UserID != userID {
		return fmt.Errorf("%w: record %s", ErrNotOwner, recordID)
	}

	affected, err := s.querier.DeleteQueryRecord(ctx, uuidToPg(recordID))
	if err != nil {
		return fmt.Errorf("%w: deleting record: %w", ErrPersistence, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}

	s.logger.Debug("deleted query record", "record_id", recordID, "user_id", userID)
	return nil
}

// DeleteConversation removes a conversation owned by userID together with
// all of its query records.
func (s *Store) DeleteConversation(ctx context.Context, conversationID uuid.UUID, userID string) error {
	if _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return err
	}

	affected, err := s.querier.DeleteConversation(ctx, uuidToPg(conversationID))
	if err != nil {
		return fmt.Errorf("%w: deleting conversation: %w", ErrPersistence, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	s.logger.Debug("deleted conversation", "conversation_id", conversationID, "user_id", userID)
	return nil
}

func rowToConversation(row postgres.Conversation) Conversation {
	return Conversation{
		ID:        pgToUUID(row.ID),
		UserID:    row.UserID,
		CourseID:  row.CourseID,
		CreatedAt: row.CreatedAt.Time,
		UpdatedAt: row.UpdatedAt.Time,
	}
}

func rowToRecord(row postgres.QueryRecord) (Record, error) {
	var citations []assembler.Citation
	if len(row.Citations) > 0 {
		if err := json.Unmarshal(row.Citations, &citations); err != nil {
			return Record{}, fmt.Errorf("%w: unmarshaling citations: %w", ErrPersistence, err)
		}
	}
	return Record{
		ID:             pgToUUID(row.ID),
		ConversationID: pgToUUID(row.ConversationID),
		SequenceNumber: int(row.SequenceNumber),
		UserID:         row.UserID,
		CourseID:       row.CourseID,
		Question:       row.Question,
		Answer:         row.Answer,
		Citations:      citations,
		CreatedAt:      row.CreatedAt.Time,
	}, nil
}

func rowsToRecords(rows []postgres.QueryRecord) ([]Record, error) {
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := rowToRecord(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}
