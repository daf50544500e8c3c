package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"smartattendance/internal/app"
	"smartattendance/internal/device"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Device binding commands",
}

var deviceClearCmd = &cobra.Command{
	Use:   "clear <identity-id>",
	Short: "Remove a device binding so the next login binds again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Guard.Clear(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device binding for %s cleared\n", args[0])
			return nil
		})
	},
}

var faceCmd = &cobra.Command{
	Use:   "face",
	Short: "Face template commands",
}

var faceResetCmd = &cobra.Command{
	Use:   "reset <identity-id>",
	Short: "Delete a face template so the identity can enroll again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Attendance.ResetFace(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "face template for %s removed\n", args[0])
			return nil
		})
	},
}

var attemptsResetCmd = &cobra.Command{
	Use:   "attempts-reset <identity-id> <session-id>",
	Short: "Clear failed verification attempts for one session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Attendance.Repository().ResetAttempts(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attempts for %s in %s cleared\n", args[0], args[1])
			return nil
		})
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print this machine's device fingerprint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fp, err := device.LocalFingerprint(cmd.Context(), device.DefaultProvider(mustGetString(cmd, "dir")))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), fp)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deviceCmd, faceCmd, fingerprintCmd)
	deviceCmd.AddCommand(deviceClearCmd)
	faceCmd.AddCommand(faceResetCmd, attemptsResetCmd, stressCmd)

	fingerprintCmd.Flags().String("dir", defaultStateDir(), "Directory holding the fallback device id")
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "attendctl")
}
