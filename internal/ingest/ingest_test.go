package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/rogerjeasy/hslu-rag-backend/internal/chunker"
	"github.com/rogerjeasy/hslu-rag-backend/internal/log"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

type stubSplitter struct {
	chunks []chunker.Chunk
	err    error
}

func (s *stubSplitter) Split(text string) ([]chunker.Chunk, error) {
	return s.chunks, s.err
}

type stubEmbedder struct {
	err   error
	calls int
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i)}
	}
	return vectors, nil
}

type stubStore struct {
	records       []vectorstore.Record
	upsertErr     error
	deletedCourse string
	deleted       string
	affected      int64
	tailFrom      int
	tailCalls     int
}

func (s *stubStore) Upsert(ctx context.Context, rec vectorstore.Record) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for i, r := range s.records {
		if r.CourseID == rec.CourseID && r.DocumentID == rec.DocumentID && r.Position == rec.Position {
			s.records[i] = rec
			return nil
		}
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *stubStore) DeleteByDocument(ctx context.Context, courseID, documentID string) (int64, error) {
	s.deletedCourse = courseID
	s.deleted = documentID
	return s.affected, nil
}

func (s *stubStore) DeleteDocumentTail(ctx context.Context, courseID, documentID string, fromPosition int) (int64, error) {
	s.tailCalls++
	s.tailFrom = fromPosition
	var removed int64
	kept := s.records[:0]
	for _, r := range s.records {
		if r.CourseID == courseID && r.DocumentID == documentID && r.Position >= fromPosition {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return removed, nil
}

func twoChunks() []chunker.Chunk {
	return []chunker.Chunk{
		{Position: 0, Content: "first part", TokenCount: 2, Section: "Indexing"},
		{Position: 1, Content: "second part", TokenCount: 2},
	}
}

func TestIndex(t *testing.T) {
	store := &stubStore{}
	p := New(&stubSplitter{chunks: twoChunks()}, &stubEmbedder{}, store, log.NewNop())

	result, err := p.Index(context.Background(), Document{
		CourseID: "DB101",
		ID:       "week3",
		Text:     "first part second part",
		Metadata: map[string]string{"source": "slides"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if result.Chunks != 2 || result.Tokens != 4 {
		t.Errorf("result = %+v", result)
	}
	if len(store.records) != 2 {
		t.Fatalf("stored %d records, want 2", len(store.records))
	}

	first := store.records[0]
	if first.CourseID != "DB101" || first.DocumentID != "week3" || first.Position != 0 {
		t.Errorf("first record = %+v", first)
	}
	if first.Metadata["section"] != "Indexing" || first.Metadata["source"] != "slides" {
		t.Errorf("first metadata = %v", first.Metadata)
	}
	if _, ok := store.records[1].Metadata["section"]; ok {
		t.Errorf("second chunk has no section, metadata = %v", store.records[1].Metadata)
	}
	if first.Embedding[0] != 0 || store.records[1].Embedding[0] != 1 {
		t.Error("vectors paired with the wrong chunks")
	}
	if store.tailFrom != 2 {
		t.Errorf("tail pruned from position %d, want 2", store.tailFrom)
	}
}

func TestIndexShrunkRevisionPrunesStaleChunks(t *testing.T) {
	store := &stubStore{}
	splitter := &stubSplitter{chunks: twoChunks()}
	p := New(splitter, &stubEmbedder{}, store, log.NewNop())

	doc := Document{CourseID: "DB101", ID: "week3", Text: "first part second part"}
	if _, err := p.Index(context.Background(), doc); err != nil {
		t.Fatalf("Index: %v", err)
	}

	// The revised document chunks shorter; position 1 must not survive.
	splitter.chunks = []chunker.Chunk{{Position: 0, Content: "rewritten", TokenCount: 1}}
	doc.Text = "rewritten"
	result, err := p.Index(context.Background(), doc)
	if err != nil {
		t.Fatalf("Index revision: %v", err)
	}
	if result.Chunks != 1 {
		t.Errorf("result.Chunks = %d, want 1", result.Chunks)
	}
	if len(store.records) != 1 {
		t.Fatalf("stored %d records after shrink, want 1", len(store.records))
	}
	if store.records[0].Content != "rewritten" || store.records[0].Position != 0 {
		t.Errorf("surviving record = %+v", store.records[0])
	}
}

func TestIndexRequiresIdentity(t *testing.T) {
	p := New(&stubSplitter{}, &stubEmbedder{}, &stubStore{}, log.NewNop())

	if _, err := p.Index(context.Background(), Document{ID: "week3"}); err == nil {
		t.Error("missing course id should fail")
	}
	if _, err := p.Index(context.Background(), Document{CourseID: "DB101"}); err == nil {
		t.Error("missing document id should fail")
	}
}

func TestIndexSplitErrorStopsPipeline(t *testing.T) {
	embedder := &stubEmbedder{}
	p := New(&stubSplitter{err: chunker.ErrEmptyDocument}, embedder, &stubStore{}, log.NewNop())

	_, err := p.Index(context.Background(), Document{CourseID: "DB101", ID: "week3"})
	if !errors.Is(err, chunker.ErrEmptyDocument) {
		t.Fatalf("err = %v, want ErrEmptyDocument", err)
	}
	if embedder.calls != 0 {
		t.Error("embedding must not run when splitting fails")
	}
}

func TestIndexEmbedErrorStopsPipeline(t *testing.T) {
	store := &stubStore{}
	embedErr := errors.New("provider down")
	p := New(&stubSplitter{chunks: twoChunks()}, &stubEmbedder{err: embedErr}, store, log.NewNop())

	_, err := p.Index(context.Background(), Document{CourseID: "DB101", ID: "week3"})
	if !errors.Is(err, embedErr) {
		t.Fatalf("err = %v, want wrapped embed error", err)
	}
	if len(store.records) != 0 {
		t.Error("nothing may be stored when embedding fails")
	}
}

func TestIndexUpsertError(t *testing.T) {
	upsertErr := errors.New("db down")
	p := New(&stubSplitter{chunks: twoChunks()}, &stubEmbedder{}, &stubStore{upsertErr: upsertErr}, log.NewNop())

	_, err := p.Index(context.Background(), Document{CourseID: "DB101", ID: "week3"})
	if !errors.Is(err, upsertErr) {
		t.Fatalf("err = %v, want wrapped upsert error", err)
	}
}

func TestRemove(t *testing.T) {
	store := &stubStore{affected: 4}
	p := New(&stubSplitter{}, &stubEmbedder{}, store, log.NewNop())

	affected, err := p.Remove(context.Background(), "DB101", "week3")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if affected != 4 || store.deleted != "week3" || store.deletedCourse != "DB101" {
		t.Errorf("affected = %d, deleted = %q in %q", affected, store.deleted, store.deletedCourse)
	}

	if _, err := p.Remove(context.Background(), "DB101", ""); err == nil {
		t.Error("empty document id should fail")
	}
	if _, err := p.Remove(context.Background(), "", "week3"); err == nil {
		t.Error("empty course id should fail")
	}
}
