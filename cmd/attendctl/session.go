package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"smartattendance/internal/app"
	"smartattendance/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Session management commands",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a session for a class",
	Long: `Opens a session. The expiry deadline is persisted, so the api or the
worker closes it even though this process exits immediately.

Examples:
  attendctl session create --class CSE/2/A --subject "Operating Systems" --faculty f1`,
	Args: cobra.NoArgs,
	RunE: runSessionCreate,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, err := a.Sessions.End(ctx, args[0], mustGetString(cmd, "actor"))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		})
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, err := a.Sessions.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		})
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			all, err := a.Sessions.List(ctx)
			if err != nil {
				return err
			}
			for _, s := range all {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", s.ID, s.Class, s.Status, s.Subject)
			}
			return nil
		})
	},
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Print every change to a session until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ch, err := a.Sessions.Watch(ctx, args[0])
			if err != nil {
				return err
			}
			for s := range ch {
				if err := printJSON(cmd.OutOrStdout(), s); err != nil {
					return err
				}
			}
			return nil
		})
	},
}

var sessionReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Close every active session past its deadline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Sessions.Reconcile(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "closed %d sessions\n", n)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionEndCmd, sessionGetCmd, sessionListCmd, sessionWatchCmd, sessionReconcileCmd)

	sessionCreateCmd.Flags().String("class", "", "BRANCH/YEAR/SECTION")
	sessionCreateCmd.Flags().String("subject", "", "Subject taught")
	sessionCreateCmd.Flags().String("faculty", "", "Faculty identity id")
	_ = sessionCreateCmd.MarkFlagRequired("class")
	_ = sessionCreateCmd.MarkFlagRequired("subject")

	sessionEndCmd.Flags().String("actor", "admin", "Who ended the session")
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	class, err := session.ParseClassKey(mustGetString(cmd, "class"))
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		s, err := a.Sessions.Create(ctx, class, mustGetString(cmd, "subject"), mustGetString(cmd, "faculty"))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s)
	})
}
