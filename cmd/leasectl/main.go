package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/VenkatGGG/leasehold/internal/client"
	"github.com/VenkatGGG/leasehold/internal/lease"
	"github.com/VenkatGGG/leasehold/internal/logging"
)

const defaultLogLevel = "warn"

type globalOptions struct {
	server    string
	sessionID string
	apiKey    string
	logLevel  string
}

func (o *globalOptions) client() *client.Client {
	return client.New(o.server, client.WithSession(o.sessionID), client.WithAPIKey(o.apiKey))
}

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelWarn)
	logger := logging.New(logging.FormatText, os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "leasectl",
		Short:         "Create, claim, extend and release shared resources",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("LEASEHOLD_SERVER", client.DefaultBaseURL), "leasehold server URL")
	flags.StringVar(&opts.sessionID, "session", os.Getenv("LEASEHOLD_SESSION"), "session id used as the claimant")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("LEASEHOLD_API_KEY"), "API key for mutating requests")
	flags.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "log verbosity (debug, info, warn, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(opts.logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		return nil
	}

	root.AddCommand(
		newSessionCommand(opts),
		newCreateCommand(opts),
		newGetCommand(opts),
		newClaimCommand(opts, logger),
		newTransitionCommand(opts, logger, "extend", "Reset your claim to the maximum duration from now"),
		newTransitionCommand(opts, logger, "release", "Give up your claim"),
		newWatchCommand(opts, logger),
	)
	return root
}

func newSessionCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage claimant sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <display-name>",
		Args:  cobra.ExactArgs(1),
		Short: "Issue a new session and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := opts.client().CreateSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", created.ID, created.Name)
			return nil
		},
	}, &cobra.Command{
		Use:   "rename <display-name>",
		Args:  cobra.ExactArgs(1),
		Short: "Change the display name of your session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(opts); err != nil {
				return err
			}
			renamed, err := opts.client().RenameSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", renamed.ID, renamed.Name)
			return nil
		},
	}, &cobra.Command{
		Use:   "delete",
		Args:  cobra.NoArgs,
		Short: "Sign out and delete your session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(opts); err != nil {
				return err
			}
			if err := opts.client().SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tsigned out\n", opts.sessionID)
			return nil
		},
	})
	return cmd
}

func newCreateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Create a resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := opts.client().CreateResource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResource(cmd.OutOrStdout(), created)
			return nil
		},
	}
}

func newGetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Show a resource and its claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := opts.client().GetResource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printResource(cmd.OutOrStdout(), found)
			return nil
		},
	}
}

func newClaimCommand(opts *globalOptions, logger *slog.Logger) *cobra.Command {
	var (
		minutes int
		message string
	)
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Claim a resource for a number of minutes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if minutes < 1 || minutes > lease.MaxClaimMinutes {
				return fmt.Errorf("--minutes must be between 1 and %d", lease.MaxClaimMinutes)
			}
			if err := requireSession(opts); err != nil {
				return err
			}
			claimed, err := opts.client().Claim(cmd.Context(), args[0], minutes, message)
			if err != nil {
				return explain(logger, args[0], err)
			}
			printResource(cmd.OutOrStdout(), claimed)
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", lease.MaxClaimMinutes, fmt.Sprintf("claim duration in minutes (1-%d)", lease.MaxClaimMinutes))
	cmd.Flags().StringVar(&message, "message", "", "optional note shown to others")
	return cmd
}

func newTransitionCommand(opts *globalOptions, logger *slog.Logger, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Args:  cobra.ExactArgs(1),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(opts); err != nil {
				return err
			}
			c := opts.client()
			call := c.Extend
			if action == "release" {
				call = c.Release
			}
			updated, err := call(cmd.Context(), args[0])
			if err != nil {
				return explain(logger, args[0], err)
			}
			printResource(cmd.OutOrStdout(), updated)
			return nil
		},
	}
}

func newWatchCommand(opts *globalOptions, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the resource every time it changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Info("watching resource", "resource_id", args[0], "server", opts.server)
			return opts.client().Watch(cmd.Context(), args[0], func(r client.Resource) error {
				printResource(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

func requireSession(opts *globalOptions) error {
	if strings.TrimSpace(opts.sessionID) == "" {
		return errors.New("--session (or LEASEHOLD_SESSION) is required; create one with 'leasectl session create <name>'")
	}
	return nil
}

// explain logs the current holder when a transition was refused.
func explain(logger *slog.Logger, id string, err error) error {
	if !client.IsConflict(err) {
		return err
	}
	logger.Debug("transition refused", "resource_id", id, "error", err)
	return fmt.Errorf("%w; run 'leasectl get %s' for the current holder", err, id)
}

func printResource(w io.Writer, r client.Resource) {
	fmt.Fprintf(w, "%s\t%s\n", r.ID, r.Name)
	if !r.Claimed {
		fmt.Fprintln(w, "  available")
		return
	}
	remaining := time.Duration(r.RemainingSeconds) * time.Second
	fmt.Fprintf(w, "  claimed by %s (%s) for %s\n", r.ClaimedByName, r.ClaimedBy, remaining)
	if r.ClaimMessage != "" {
		fmt.Fprintf(w, "  message: %s\n", r.ClaimMessage)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
