package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/carrierhub/provisioner/internal/provisioner/app"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/carrierhub/provisioner/internal/provisioner/project"
	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and delete projects directly against the backing services",
	}
	cmd.AddCommand(newProjectCreateCmd(), newProjectDeleteCmd(), newProjectPersonalCmd())
	return cmd
}

func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, config.Config())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newProjectCreateCmd() *cobra.Command {
	var (
		req     project.CreateRequest
		ownerID int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a new project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Projects.CreateProject(ctx, ownerID, req)
				if err != nil {
					return err
				}
				printOutcome(out)
				if out.Failed {
					return ErrAlreadyHandled
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "Project name")
	cmd.Flags().StringVar(&req.ProjectAdminEmail, "admin-email", "", "Email of the project admin")
	cmd.Flags().StringSliceVar(&req.Plugins, "plugin", nil, "Plugin to enable (repeatable)")
	cmd.Flags().StringSliceVar(&req.Invitees, "invitee", nil, "Email to invite (repeatable)")
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "User id of the project owner")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("admin-email")
	return cmd
}

func newProjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete PROJECT_ID",
		Short: "Deprovision a project; every step runs even when some fail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid project id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Projects.DeleteProject(ctx, id)
				if err != nil {
					return err
				}
				printOutcome(out)
				return nil
			})
		},
	}
}

func newProjectPersonalCmd() *cobra.Command {
	var (
		userID int64
		email  string
	)
	cmd := &cobra.Command{
		Use:   "personal",
		Short: "Create the personal project of a user if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				a.Projects.CreatePersonalProject(ctx, userID, email)
				okLabel.Fprintln(os.Stdout, "[OK] personal project ensured")
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&userID, "user-id", 0, "User id")
	cmd.Flags().StringVar(&email, "email", "", "Email of the user")
	cmd.MarkFlagRequired("user-id")
	cmd.MarkFlagRequired("email")
	return cmd
}
