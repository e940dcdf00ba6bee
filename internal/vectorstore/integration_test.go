package vectorstore_test

import (
	"context"
	"math"
	"testing"

	"github.com/rogerjeasy/hslu-rag-backend/internal/postgres"
	"github.com/rogerjeasy/hslu-rag-backend/internal/testutil"
	"github.com/rogerjeasy/hslu-rag-backend/internal/vectorstore"
)

const dim = 768

// unitVector builds a 768-dim unit vector pointing between axis 0 and axis 1:
// angle 0 is identical to the query axis, angle Pi/2 is orthogonal.
func unitVector(angle float64) []float32 {
	v := make([]float32, dim)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return v
}

func TestStoreIntegration(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	queries := postgres.New(db.Pool)
	store := vectorstore.New(queries, dim, nil)

	for _, course := range []string{"DB101", "CS200"} {
		if err := queries.CreateCourse(ctx, postgres.CreateCourseParams{
			ID: course, Title: course,
		}); err != nil {
			t.Fatalf("CreateCourse(%s): %v", course, err)
		}
	}

	records := []vectorstore.Record{
		{CourseID: "DB101", DocumentID: "week3", Position: 0,
			Content: "A B-tree is a self-balancing search tree.", Embedding: unitVector(0)},
		{CourseID: "DB101", DocumentID: "week3", Position: 1,
			Content: "Interior nodes hold separator keys.", Embedding: unitVector(0.4)},
		{CourseID: "DB101", DocumentID: "week4", Position: 0,
			Content: "Hash indexes trade range scans for O(1) lookups.", Embedding: unitVector(1.4)},
		{CourseID: "CS200", DocumentID: "intro", Position: 0,
			Content: "Processes isolate address spaces.", Embedding: unitVector(0.1)},
	}
	for _, rec := range records {
		if err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert(%s/%d): %v", rec.DocumentID, rec.Position, err)
		}
	}

	t.Run("scoped ordered search", func(t *testing.T) {
		chunks, err := store.Search(ctx, unitVector(0), "DB101", vectorstore.WithTopK(10))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(chunks) != 3 {
			t.Fatalf("got %d chunks, want 3", len(chunks))
		}
		for i, ch := range chunks {
			if ch.CourseID != "DB101" {
				t.Errorf("chunk %d leaked from course %s", i, ch.CourseID)
			}
			if i > 0 && chunks[i-1].Similarity < ch.Similarity {
				t.Errorf("results not in descending similarity at %d", i)
			}
		}
		if chunks[0].DocumentID != "week3" || chunks[0].Position != 0 {
			t.Errorf("closest chunk = %s/%d, want week3/0", chunks[0].DocumentID, chunks[0].Position)
		}
	})

	t.Run("min score threshold", func(t *testing.T) {
		chunks, err := store.Search(ctx, unitVector(0), "DB101",
			vectorstore.WithTopK(10), vectorstore.WithMinScore(0.5))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		// cos(1.4) ~ 0.17, so the hash-index chunk drops out.
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks above 0.5, want 2", len(chunks))
		}
	})

	t.Run("top k cap", func(t *testing.T) {
		chunks, err := store.Search(ctx, unitVector(0), "DB101", vectorstore.WithTopK(1))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(chunks) != 1 {
			t.Fatalf("got %d chunks, want 1", len(chunks))
		}
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		updated := records[0]
		updated.Content = "A B-tree keeps all leaves at the same depth."
		if err := store.Upsert(ctx, updated); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		chunks, err := store.Search(ctx, unitVector(0), "DB101", vectorstore.WithTopK(1))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if chunks[0].Content != updated.Content {
			t.Errorf("content = %q, overwrite not applied", chunks[0].Content)
		}
	})

	t.Run("delete by document", func(t *testing.T) {
		n, err := store.DeleteByDocument(ctx, "DB101", "week3")
		if err != nil {
			t.Fatalf("DeleteByDocument: %v", err)
		}
		if n != 2 {
			t.Errorf("deleted %d chunks, want 2", n)
		}
		count, err := store.Count(ctx, "DB101")
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 1 {
			t.Errorf("remaining = %d, want 1", count)
		}
	})

	t.Run("same document id in two courses", func(t *testing.T) {
		// Both courses carry an "intro" document; neither upserts nor
		// deletes may cross the course boundary.
		if err := store.Upsert(ctx, vectorstore.Record{
			CourseID: "DB101", DocumentID: "intro", Position: 0,
			Content: "Relations, tuples and attributes.", Embedding: unitVector(0.2),
		}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		chunks, err := store.Search(ctx, unitVector(0.1), "CS200", vectorstore.WithTopK(10))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(chunks) != 1 || chunks[0].Content != "Processes isolate address spaces." {
			t.Fatalf("CS200 intro was clobbered: %+v", chunks)
		}

		if _, err := store.DeleteByDocument(ctx, "CS200", "intro"); err != nil {
			t.Fatalf("DeleteByDocument: %v", err)
		}
		chunks, err = store.Search(ctx, unitVector(0.2), "DB101", vectorstore.WithTopK(10))
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		found := false
		for _, ch := range chunks {
			if ch.DocumentID == "intro" {
				found = true
			}
		}
		if !found {
			t.Error("deleting CS200's intro removed DB101's intro")
		}
	})

	t.Run("shrinking revision prunes the tail", func(t *testing.T) {
		n, err := store.DeleteDocumentTail(ctx, "DB101", "week4", 0)
		if err != nil {
			t.Fatalf("DeleteDocumentTail: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted %d chunks, want 1", n)
		}
	})
}
