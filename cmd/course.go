package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogerjeasy/hslu-rag-backend/internal/config"
	"github.com/rogerjeasy/hslu-rag-backend/internal/postgres"
)

var (
	courseTitle       string
	courseDescription string
)

var courseCmd = &cobra.Command{
	Use:   "course",
	Short: "Manage courses and enrollments",
}

var courseCreateCmd = &cobra.Command{
	Use:   "create <course-id>",
	Short: "Create or update a course",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueries(cmd.Context(), func(ctx context.Context, q *postgres.Queries) error {
			if err := q.CreateCourse(ctx, postgres.CreateCourseParams{
				ID:          args[0],
				Title:       courseTitle,
				Description: courseDescription,
			}); err != nil {
				return fmt.Errorf("creating course: %w", err)
			}
			fmt.Printf("course %s ready\n", args[0])
			return nil
		})
	},
}

var courseEnrollCmd = &cobra.Command{
	Use:   "enroll <course-id> <user-id>",
	Short: "Enroll a user in a course",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withQueries(cmd.Context(), func(ctx context.Context, q *postgres.Queries) error {
			if err := q.EnrollUser(ctx, postgres.EnrollUserParams{
				CourseID: args[0],
				UserID:   args[1],
			}); err != nil {
				return fmt.Errorf("enrolling user: %w", err)
			}
			fmt.Printf("%s enrolled in %s\n", args[1], args[0])
			return nil
		})
	},
}

func init() {
	courseCreateCmd.Flags().StringVar(&courseTitle, "title", "", "course title (required)")
	courseCreateCmd.Flags().StringVar(&courseDescription, "description", "", "course description")
	_ = courseCreateCmd.MarkFlagRequired("title")
	courseCmd.AddCommand(courseCreateCmd, courseEnrollCmd)
	rootCmd.AddCommand(courseCmd)
}

// withQueries opens a database connection for the duration of one admin
// operation. Course administration does not need the AI stack, so it
// skips full application setup.
func withQueries(ctx context.Context, fn func(context.Context, *postgres.Queries) error) error {
	initLogger()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, postgres.New(pool))
}
