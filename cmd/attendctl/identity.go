package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"smartattendance/internal/app"
	"smartattendance/internal/attendance"
	"smartattendance/internal/session"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Identity management commands",
}

var identityPutCmd = &cobra.Command{
	Use:   "put <id>",
	Short: "Create or replace an identity",
	Long: `Creates or replaces an identity record.

Examples:
  attendctl identity put u1 --role student --class CSE/2/A --name "Asha"
  attendctl identity put f1 --role faculty --email f1@example.edu`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityPut,
}

var identityGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an identity with its device binding and enrollment",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityGet,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ids, err := a.Attendance.Repository().Identities(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ids)
		})
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityPutCmd, identityGetCmd, identityListCmd)

	identityPutCmd.Flags().String("role", attendance.RoleStudent, "student or faculty")
	identityPutCmd.Flags().String("class", "", "BRANCH/YEAR/SECTION, required for students")
	identityPutCmd.Flags().String("name", "", "Display name")
	identityPutCmd.Flags().String("email", "", "Email address")
}

func runIdentityPut(cmd *cobra.Command, args []string) error {
	id := attendance.Identity{
		ID:    args[0],
		Role:  mustGetString(cmd, "role"),
		Name:  mustGetString(cmd, "name"),
		Email: mustGetString(cmd, "email"),
	}
	if c := mustGetString(cmd, "class"); c != "" {
		class, err := session.ParseClassKey(c)
		if err != nil {
			return err
		}
		id.Class = class
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Attendance.Repository().PutIdentity(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "identity %s saved\n", id.ID)
		return nil
	})
}

func runIdentityGet(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		repo := a.Attendance.Repository()
		id, err := repo.Identity(ctx, args[0])
		if err != nil {
			return err
		}
		if id == nil {
			return fmt.Errorf("identity %s not found", args[0])
		}
		binding, err := a.Guard.Binding(ctx, id.ID)
		if err != nil {
			return err
		}
		tpl, err := repo.Template(ctx, id.ID)
		if err != nil {
			return err
		}
		out := map[string]any{"identity": id, "device": binding, "enrolled": tpl != nil}
		if tpl != nil {
			out["enrolled_at"] = tpl.EnrolledAt
			out["image_url"] = tpl.ImageURL
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}
