// Package cmd implements the hslu-rag command line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rogerjeasy/hslu-rag-backend/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "hslu-rag",
	Short: "Course-scoped question answering for HSLU study materials",
	Long: `hslu-rag serves a retrieval-augmented question answering API over
indexed course materials. Students ask questions against the courses
they are enrolled in and receive answers grounded in lecture slides,
scripts, and exercises, with citations back to the source material.

Run "hslu-rag serve" to start the HTTP API, or "hslu-rag ingest" to
index documents into a course.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// initLogger builds the process logger. DEBUG in the environment enables
// debug level, LOG_JSON switches to JSON output for log aggregation.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo, JSON: os.Getenv("LOG_JSON") != ""}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	logger := log.New(cfg)
	slog.SetDefault(logger)
	return logger
}
