package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rogerjeasy/hslu-rag-backend/internal/assembler"
	"github.com/rogerjeasy/hslu-rag-backend/internal/course"
	"github.com/rogerjeasy/hslu-rag-backend/internal/generation"
	"github.com/rogerjeasy/hslu-rag-backend/internal/history"
	"github.com/rogerjeasy/hslu-rag-backend/internal/log"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

type stubAuthorizer struct {
	err   error
	calls int
}

func (s *stubAuthorizer) Authorize(ctx context.Context, courseID, userID string) error {
	s.calls++
	return s.err
}

type stubRetriever struct {
	chunks []vectorstore.Chunk
	err    error
	calls  int
}

func (s *stubRetriever) Retrieve(ctx context.Context, queryText, courseID string, k int) ([]vectorstore.Chunk, error) {
	s.calls++
	return s.chunks, s.err
}

type stubAssembler struct {
	ctx assembler.Context
}

func (s *stubAssembler) Assemble(ranked []vectorstore.Chunk, maxTokens int) assembler.Context {
	return s.ctx
}

type stubGenerator struct {
	answer  string
	err     error
	lastReq generation.Request
	delay   time.Duration
}

func (s *stubGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	s.lastReq = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.answer, s.err
}

type stubHistory struct {
	conversations map[uuid.UUID]*history.Conversation
	turns         []history.Record
	recorded      []history.Record
	recordErr     error
}

func newStubHistory() *stubHistory {
	return &stubHistory{conversations: make(map[uuid.UUID]*history.Conversation)}
}

func (s *stubHistory) addConversation(userID, courseID string) uuid.UUID {
	id := uuid.New()
	s.conversations[id] = &history.Conversation{ID: id, UserID: userID, CourseID: courseID}
	return id
}

func (s *stubHistory) GetConversation(ctx context.Context, id uuid.UUID, userID string) (*history.Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok {
		return nil, history.ErrConversationNotFound
	}
	if conv.UserID != userID {
		return nil, history.ErrNotOwner
	}
	return conv, nil
}

func (s *stubHistory) ConversationTurns(ctx context.Context, conversationID uuid.UUID, userID string, n int) ([]history.Record, error) {
	return s.turns, nil
}

func (s *stubHistory) RecordTurn(ctx context.Context, conversationID uuid.UUID, userID, courseID, question, answer string, citations []assembler.Citation) (*history.Record, error) {
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	if conversationID == uuid.Nil {
		conversationID = s.addConversation(userID, courseID)
	}
	record := history.Record{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SequenceNumber: len(s.recorded) + 1,
		UserID:         userID,
		CourseID:       courseID,
		Question:       question,
		Answer:         answer,
		Citations:      citations,
	}
	s.recorded = append(s.recorded, record)
	return &record, nil
}

func someChunks() []vectorstore.Chunk {
	return []vectorstore.Chunk{{
		ID:         uuid.New(),
		CourseID:   "DB101",
		DocumentID: "week3",
		Content:    "A B-tree is a self-balancing search tree.",
		Similarity: 0.91,
	}}
}

func someContext() assembler.Context {
	return assembler.Context{
		Text:       "[1] A B-tree is a self-balancing search tree.",
		Citations:  []assembler.Citation{{ChunkID: uuid.New(), DocumentID: "week3"}},
		TokenCount: 9,
	}
}

type fixture struct {
	authorizer *stubAuthorizer
	retriever  *stubRetriever
	generator  *stubGenerator
	store      *stubHistory
	orch       *Orchestrator
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		authorizer: &stubAuthorizer{},
		retriever:  &stubRetriever{chunks: someChunks()},
		generator:  &stubGenerator{answer: "A balanced search tree. [1]"},
		store:      newStubHistory(),
	}
	f.orch = New(f.authorizer, f.retriever, &stubAssembler{ctx: someContext()}, f.generator, f.store, cfg, log.NewNop())
	return f
}

func TestExecuteHappyPath(t *testing.T) {
	f := newFixture(Config{TopK: 5})

	result, err := f.orch.Execute(context.Background(), Request{
		UserID:   "alice",
		CourseID: "DB101",
		Question: "What is a B-tree?",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Answer == "" || len(result.Citations) != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.ConversationID == (uuid.UUID{}) {
		t.Error("a fresh conversation id should be assigned")
	}
	if len(f.store.recorded) != 1 {
		t.Fatalf("recorded %d turns, want 1", len(f.store.recorded))
	}
	if f.store.recorded[0].Question != "What is a B-tree?" {
		t.Errorf("persisted question = %q", f.store.recorded[0].Question)
	}
}

// A query from a user not enrolled in the course must fail before any
// retrieval call is issued.
func TestExecuteForbiddenScopeBeforeRetrieval(t *testing.T) {
	f := newFixture(Config{})
	f.authorizer.err = course.ErrForbiddenScope

	_, err := f.orch.Execute(context.Background(), Request{
		UserID:   "mallory",
		CourseID: "CS200",
		Question: "question",
	})
	if !errors.Is(err, course.ErrForbiddenScope) {
		t.Fatalf("err = %v, want ErrForbiddenScope", err)
	}
	if f.retriever.calls != 0 {
		t.Error("retrieval must not run for a forbidden scope")
	}
	if len(f.store.recorded) != 0 {
		t.Error("nothing may be persisted on failure")
	}
}

func TestExecuteNoContextDisallowed(t *testing.T) {
	f := newFixture(Config{AllowUngrounded: false})
	f.retriever.chunks = nil

	_, err := f.orch.Execute(context.Background(), Request{
		UserID: "alice", CourseID: "DB101", Question: "unrelated",
	})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("err = %v, want ErrNoContext", err)
	}
	if len(f.store.recorded) != 0 {
		t.Error("nothing may be persisted on failure")
	}
}

func TestExecuteNoContextAllowedWhenUngrounded(t *testing.T) {
	f := newFixture(Config{AllowUngrounded: true})
	f.retriever.chunks = nil
	f.orch.assembler = &stubAssembler{} // empty context

	result, err := f.orch.Execute(context.Background(), Request{
		UserID: "alice", CourseID: "DB101", Question: "question",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Citations) != 0 {
		t.Errorf("ungrounded answer should carry no citations: %+v", result.Citations)
	}
}

// Generation failing after its own retries must surface unchanged and leave
// no QueryRecord behind.
func TestExecuteGenerationFailureNotPersisted(t *testing.T) {
	f := newFixture(Config{})
	f.generator.err = generation.ErrProviderUnavailable

	_, err := f.orch.Execute(context.Background(), Request{
		UserID: "alice", CourseID: "DB101", Question: "question",
	})
	if !errors.Is(err, generation.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if len(f.store.recorded) != 0 {
		t.Error("nothing may be persisted when generation fails")
	}
}

// A fresh-conversation request that fails mid-pipeline must not leave an
// empty conversation row behind; the conversation only comes into existence
// together with its first persisted turn.
func TestExecuteFailedQueryCreatesNoConversation(t *testing.T) {
	f := newFixture(Config{})
	f.generator.err = generation.ErrProviderUnavailable

	_, err := f.orch.Execute(context.Background(), Request{
		UserID: "alice", CourseID: "DB101", Question: "question",
	})
	if !errors.Is(err, generation.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
	if len(f.store.conversations) != 0 {
		t.Errorf("%d conversations persisted, want 0", len(f.store.conversations))
	}
}

// A second turn must not see the first turn's answer unless history
// injection is explicitly enabled.
func TestExecuteHistoryExcludedByDefault(t *testing.T) {
	f := newFixture(Config{IncludeHistory: false})
	convID := f.store.addConversation("alice", "DB101")
	f.store.turns = []history.Record{{Question: "first q", Answer: "first answer"}}

	_, err := f.orch.Execute(context.Background(), Request{
		UserID:         "alice",
		CourseID:       "DB101",
		Question:       "second q",
		ConversationID: convID,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(f.generator.lastReq.History) != 0 {
		t.Errorf("history leaked into prompt: %+v", f.generator.lastReq.History)
	}
}

func TestExecuteHistoryIncludedWhenConfigured(t *testing.T) {
	f := newFixture(Config{IncludeHistory: true, HistoryTurns: 5})
	convID := f.store.addConversation("alice", "DB101")
	f.store.turns = []history.Record{{Question: "first q", Answer: "first answer"}}

	_, err := f.orch.Execute(context.Background(), Request{
		UserID:         "alice",
		CourseID:       "DB101",
		Question:       "second q",
		ConversationID: convID,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(f.generator.lastReq.History) != 1 || f.generator.lastReq.History[0].Answer != "first answer" {
		t.Errorf("history = %+v", f.generator.lastReq.History)
	}
}

func TestExecuteConversationCourseMismatch(t *testing.T) {
	f := newFixture(Config{})
	convID := f.store.addConversation("alice", "CS200")

	_, err := f.orch.Execute(context.Background(), Request{
		UserID:         "alice",
		CourseID:       "DB101",
		Question:       "question",
		ConversationID: convID,
	})
	if !errors.Is(err, ErrConversationMismatch) {
		t.Fatalf("err = %v, want ErrConversationMismatch", err)
	}
}

func TestExecuteForeignConversation(t *testing.T) {
	f := newFixture(Config{})
	convID := f.store.addConversation("bob", "DB101")

	_, err := f.orch.Execute(context.Background(), Request{
		UserID:         "alice",
		CourseID:       "DB101",
		Question:       "question",
		ConversationID: convID,
	})
	if !errors.Is(err, history.ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestExecuteBudgetExceeded(t *testing.T) {
	f := newFixture(Config{Budget: 20 * time.Millisecond})
	f.generator.delay = time.Second

	_, err := f.orch.Execute(context.Background(), Request{
		UserID: "alice", CourseID: "DB101", Question: "question",
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if len(f.store.recorded) != 0 {
		t.Error("nothing may be persisted on timeout")
	}
}

func TestExecutePersistenceFailure(t *testing.T) {
	f := newFixture(Config{})
	f.store.recordErr = history.ErrPersistence

	_, err := f.orch.Execute(context.Background(), Request{
		UserID: "alice", CourseID: "DB101", Question: "question",
	})
	if !errors.Is(err, history.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
}
