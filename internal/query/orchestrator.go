// Package query coordinates one scoped question through scope validation,
// retrieval, context assembly, generation and persistence.
//
// Each query walks the state machine
//
//	Received → ScopeValidated → Retrieved → ContextAssembled → Generated →
//	Persisted → Completed
//
// with Failed reachable from every step. A failed query persists nothing:
// the QueryRecord write is the last step before completion.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rogerjeasy/hslu-rag-backend/internal/assembler"
	"github.com/rogerjeasy/hslu-rag-backend/internal/generation"
	"github.com/rogerjeasy/hslu-rag-backend/internal/history"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

var (
	// ErrTimeout indicates the whole pipeline exceeded its wall-clock budget.
	ErrTimeout = errors.New("query budget exceeded")

	// ErrNoContext indicates retrieval produced no usable chunks and the
	// configuration disallows ungrounded answers.
	ErrNoContext = errors.New("no grounding material found")

	// ErrConversationMismatch indicates the conversation belongs to a
	// different course than the query.
	ErrConversationMismatch = errors.New("conversation belongs to a different course")
)

// State names a step of the query pipeline.
type State string

const (
	StateReceived         State = "received"
	StateScopeValidated   State = "scope_validated"
	StateRetrieved        State = "retrieved"
	StateContextAssembled State = "context_assembled"
	StateGenerated        State = "generated"
	StatePersisted        State = "persisted"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Authorizer checks course scope before any retrieval happens.
type Authorizer interface {
	Authorize(ctx context.Context, courseID, userID string) error
}

// Retriever fetches ranked candidates for a question.
type Retriever interface {
	Retrieve(ctx context.Context, queryText, courseID string, k int) ([]vectorstore.Chunk, error)
}

// ContextAssembler builds the token-bounded prompt context.
type ContextAssembler interface {
	Assemble(ranked []vectorstore.Chunk, maxTokens int) assembler.Context
}

// Generator produces the answer text.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (string, error)
}

// HistoryStore persists conversations and turns. RecordTurn with a zero
// conversation id starts a new conversation atomically with its first turn.
type HistoryStore interface {
	GetConversation(ctx context.Context, id uuid.UUID, userID string) (*history.Conversation, error)
	ConversationTurns(ctx context.Context, conversationID uuid.UUID, userID string, n int) ([]history.Record, error)
	RecordTurn(ctx context.Context, conversationID uuid.UUID, userID, courseID, question, answer string, citations []assembler.Citation) (*history.Record, error)
}

// Config holds pipeline tunables.
type Config struct {
	// TopK is the number of candidates requested from retrieval.
	TopK int

	// ContextMaxTokens bounds the assembled context.
	ContextMaxTokens int

	// HistoryTurns is how many prior turns are replayed to the model when
	// IncludeHistory is on.
	HistoryTurns int

	// IncludeHistory injects prior conversation turns into the prompt.
	// Off by default: a turn's context must not leak earlier answers unless
	// explicitly configured.
	IncludeHistory bool

	// AllowUngrounded permits answering without any retrieved material.
	AllowUngrounded bool

	// Budget is the wall-clock limit for the whole pipeline.
	Budget time.Duration
}

// Request is one scoped question.
type Request struct {
	UserID         string
	CourseID       string
	Question       string
	ConversationID uuid.UUID // zero value starts a new conversation
}

// Result is a completed query.
type Result struct {
	Answer         string
	Citations      []assembler.Citation
	ConversationID uuid.UUID
	RecordID       uuid.UUID
}

// Orchestrator runs the query pipeline. Safe for concurrent use; each call
// is independent and shares only the injected collaborators.
type Orchestrator struct {
	authorizer Authorizer
	retriever  Retriever
	assembler  ContextAssembler
	generator  Generator
	store      HistoryStore
	cfg        Config
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(authorizer Authorizer, retriever Retriever, asm ContextAssembler, generator Generator, store HistoryStore, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK < 1 {
		cfg.TopK = 5
	}
	if cfg.HistoryTurns < 1 {
		cfg.HistoryTurns = 5
	}
	return &Orchestrator{
		authorizer: authorizer,
		retriever:  retriever,
		assembler:  asm,
		generator:  generator,
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
}

// Execute runs one query through the pipeline.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if o.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Budget)
		defer cancel()
	}

	state := StateReceived
	fail := func(err error) (*Result, error) {
		failedAt := state
		state = StateFailed
		o.logger.Warn("query failed",
			"user_id", req.UserID,
			"course_id", req.CourseID,
			"failed_at", string(failedAt),
			"elapsed", time.Since(start),
			"error", err)
		if ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: failed at %s: %w", ErrTimeout, failedAt, err)
		}
		return nil, err
	}

	// Scope first: an unauthorized query must never reach retrieval.
	if err := o.authorizer.Authorize(ctx, req.CourseID, req.UserID); err != nil {
		return fail(err)
	}
	state = StateScopeValidated

	// Validating an existing conversation reads but never writes; a new
	// conversation is created atomically with its first turn during the
	// persistence step, so a failed query leaves no row behind.
	if err := o.validateConversation(ctx, req); err != nil {
		return fail(err)
	}

	chunks, err := o.retriever.Retrieve(ctx, req.Question, req.CourseID, o.cfg.TopK)
	if err != nil {
		return fail(err)
	}
	state = StateRetrieved

	if len(chunks) == 0 && !o.cfg.AllowUngrounded {
		return fail(fmt.Errorf("%w: course %s", ErrNoContext, req.CourseID))
	}

	promptCtx := o.assembler.Assemble(chunks, o.cfg.ContextMaxTokens)
	state = StateContextAssembled

	genReq := generation.Request{
		Question: req.Question,
		Context:  promptCtx.Text,
	}
	if o.cfg.IncludeHistory && req.ConversationID != uuid.Nil {
		turns, err := o.store.ConversationTurns(ctx, req.ConversationID, req.UserID, o.cfg.HistoryTurns)
		if err != nil {
			return fail(err)
		}
		for _, turn := range turns {
			genReq.History = append(genReq.History, generation.Turn{
				Question: turn.Question,
				Answer:   turn.Answer,
			})
		}
	}

	answer, err := o.generator.Generate(ctx, genReq)
	if err != nil {
		return fail(err)
	}
	state = StateGenerated

	record, err := o.store.RecordTurn(ctx, req.ConversationID, req.UserID, req.CourseID,
		req.Question, answer, promptCtx.Citations)
	if err != nil {
		return fail(err)
	}
	state = StatePersisted
	o.logger.Debug("turn persisted",
		"conversation_id", record.ConversationID,
		"sequence", record.SequenceNumber)

	state = StateCompleted
	o.logger.Info("query completed",
		"state", string(state),
		"user_id", req.UserID,
		"course_id", req.CourseID,
		"conversation_id", record.ConversationID,
		"citations", len(promptCtx.Citations),
		"elapsed", time.Since(start))

	return &Result{
		Answer:         answer,
		Citations:      promptCtx.Citations,
		ConversationID: record.ConversationID,
		RecordID:       record.ID,
	}, nil
}

// validateConversation checks ownership and course scope of an existing
// conversation. A zero conversation id means a new conversation and needs
// no validation.
func (o *Orchestrator) validateConversation(ctx context.Context, req Request) error {
	if req.ConversationID == uuid.Nil {
		return nil
	}

	conv, err := o.store.GetConversation(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return err
	}
	if conv.CourseID != req.CourseID {
		return fmt.Errorf("%w: conversation %s is scoped to %s",
			ErrConversationMismatch, conv.ID, conv.CourseID)
	}
	return nil
}
