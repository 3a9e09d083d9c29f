package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/app"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/config"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/identity"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/transcript"
)

// NewRootCmd creates the chipictl root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chipictl",
		Short:        "Operate the Chipi Spanish tutor",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("verbose", false, "Log debug output to stderr")

	root.AddCommand(NewTurnCmd())
	root.AddCommand(NewStateCmd())
	root.AddCommand(NewSchemaCmd())
	root.AddCommand(NewTokenCmd())
	return root
}

// NewTurnCmd creates the turn command.
func NewTurnCmd() *cobra.Command {
	var userID, message string
	cmd := &cobra.Command{
		Use:   "turn",
		Short: "Run one tutoring turn for a user",
		Long: `Runs a single turn against the configured storage and oracle, exactly as
the HTTP server would, and prints the tutor's reply.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.ErrOrStderr(), a)

			ctx := transcript.WithChannel(cmd.Context(), transcript.ChannelCLI)
			out, err := a.Service.HandleTurn(ctx, userID, message)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, out.Reply)
			if verbose(cmd) {
				faint := color.New(color.Faint)
				_, _ = faint.Fprintf(w, "\n[turn %s, %s, path %v]\n", out.TurnID, out.LastInteractionType, out.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Learner message")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// NewStateCmd creates the state command.
func NewStateCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print a user's stored conversation state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(cmd.ErrOrStderr(), a)

			state, err := a.Service.State(cmd.Context(), userID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// NewSchemaCmd creates the schema command.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema the extraction oracle must satisfy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), oracle.ExtractionSchema())
		},
	}
}

// NewTokenCmd creates the token command.
func NewTokenCmd() *cobra.Command {
	var userID, name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		Long:  `Signs an HS256 token with AUTH_JWT_SECRET for use as "Authorization: Bearer <token>".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			secret := os.Getenv("AUTH_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is not set")
			}
			token, err := identity.IssueToken(secret, userID, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id (token subject)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func verbose(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	return v
}

func buildApp(cmd *cobra.Command) (*app.App, error) {
	_ = godotenv.Load()

	level := slog.LevelWarn
	if verbose(cmd) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Build(ctx, cfg, logger)
}

// closeApp releases a and reports any close error on w.
func closeApp(w io.Writer, a io.Closer) {
	if err := a.Close(); err != nil {
		logger := slog.New(slog.NewTextHandler(w, nil))
		logger.Error("Failed to close dependencies", "error", err)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
