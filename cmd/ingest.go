package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rogerjeasy/hslu-rag-backend/internal/app"
	"github.com/rogerjeasy/hslu-rag-backend/internal/config"
	"github.com/rogerjeasy/hslu-rag-backend/internal/ingest"
)

var (
	ingestCourseID string
	ingestSource   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Index course material documents",
	Long: `Index one or more text or Markdown files into a course. The document
id is derived from the file name, so re-ingesting a changed file
replaces its previous chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

var ingestRemoveCmd = &cobra.Command{
	Use:   "remove <document-id>...",
	Short: "Remove indexed documents from a course",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngestRemove(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestCourseID, "course", "", "course id to index into (required)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label stored as chunk metadata")
	_ = ingestCmd.MarkFlagRequired("course")
	ingestRemoveCmd.Flags().StringVar(&ingestCourseID, "course", "", "course id to remove from (required)")
	_ = ingestRemoveCmd.MarkFlagRequired("course")
	ingestCmd.AddCommand(ingestRemoveCmd)
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(parent context.Context, paths []string) error {
	logger := initLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(parent, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if _, err := a.Courses.Get(parent, ingestCourseID); err != nil {
		return fmt.Errorf("course %s: %w", ingestCourseID, err)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		doc := ingest.Document{
			CourseID: ingestCourseID,
			ID:       documentID(path),
			Text:     string(data),
		}
		if ingestSource != "" {
			doc.Metadata = map[string]string{"source": ingestSource}
		}

		result, err := a.Ingest.Index(parent, doc)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		fmt.Printf("indexed %s: %d chunks, %d tokens\n", result.DocumentID, result.Chunks, result.Tokens)
	}
	return nil
}

func runIngestRemove(parent context.Context, documentIDs []string) error {
	logger := initLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(parent, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	for _, id := range documentIDs {
		affected, err := a.Ingest.Remove(parent, ingestCourseID, id)
		if err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
		fmt.Printf("removed %s from %s: %d chunks\n", id, ingestCourseID, affected)
	}
	return nil
}

// documentID derives a stable document id from a file path:
// the base name without extension, lowercased.
func documentID(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ToLower(base)
}
