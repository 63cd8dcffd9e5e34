package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/aippoint/interview-api/internal/config"
	"github.com/aippoint/interview-api/internal/feedback"
	"github.com/aippoint/interview-api/internal/ledger"
	"github.com/aippoint/interview-api/internal/storage"
)

// --- attempts ---

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect or record interview attempts",
}

var attemptsCheckCmd = &cobra.Command{
	Use:   "check <email>",
	Short: "Show the attempts used by an email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttempts(cmd, ledger.ActionCheck, args[0])
	},
}

var attemptsIncrementCmd = &cobra.Command{
	Use:   "increment <email>",
	Short: "Record one attempt for an email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAttempts(cmd, ledger.ActionIncrement, args[0])
	},
}

func runAttempts(cmd *cobra.Command, action, email string) error {
	return withStore(cmd.Context(), func(cfg *config.Config, store storage.Storage, log logrus.FieldLogger) error {
		l := ledger.New(store, cfg.Ledger.MaxAttempts, nil, log)
		out, err := l.Apply(cmd.Context(), email, action)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Browse stored interview feedback",
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feedback, newest first",
	Long: `List feedback, newest first.

Examples:
  interview-api feedback list --email ada@example.com
  interview-api feedback list --status pending --limit 10 --offset 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		return withStore(cmd.Context(), func(cfg *config.Config, store storage.Storage, log logrus.FieldLogger) error {
			fs := feedback.New(store, nil, log)
			page, err := fs.List(cmd.Context(), feedback.ListQuery{
				Email:  email,
				Status: status,
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		})
	},
}

func init() {
	attemptsCmd.AddCommand(attemptsCheckCmd, attemptsIncrementCmd)

	feedbackListCmd.Flags().String("email", "", "only feedback for this email")
	feedbackListCmd.Flags().String("status", "", "only feedback with this status")
	feedbackListCmd.Flags().Int("limit", feedback.DefaultLimit, "maximum records to return")
	feedbackListCmd.Flags().Int("offset", 0, "records to skip")
	feedbackCmd.AddCommand(feedbackListCmd)
}

// withStore opens the configured storage for the duration of fn
func withStore(ctx context.Context, fn func(*config.Config, storage.Storage, logrus.FieldLogger) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(ctx, cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	return fn(cfg, store, log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
