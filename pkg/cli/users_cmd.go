package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

func newUsersCmd(app *App, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user profiles",
	}
	cmd.AddCommand(
		newUsersListCmd(app, opts),
		newUsersAddCmd(app, opts),
		newUsersRoleCmd(app, opts),
	)
	return cmd
}

func newUsersListCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := app.Directory.List(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), list, func(w io.Writer) error {
				rows := make([][]string, 0, len(list))
				for _, u := range list {
					rows = append(rows, []string{u.ID, u.Name, u.Email, string(u.Role), orDash(u.Department)})
				}
				return table(w, []string{"ID", "NAME", "EMAIL", "ROLE", "DEPARTMENT"}, rows)
			})
		},
	}
}

func newUsersAddCmd(app *App, opts *options) *cobra.Command {
	var (
		in   users.NewUser
		role string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != "" {
				r, ok := rbac.ParseRole(role)
				if !ok {
					return fmt.Errorf("%w: %q", rbac.ErrUnknownRole, role)
				}
				in.Role = r
			}
			u, err := app.Directory.Add(cmd.Context(), in)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), u, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Created user %s (%s, %s)\n", u.ID, u.Email, u.Role)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&in.ID, "id", "", "User id (default: generated)")
	cmd.Flags().StringVar(&in.Name, "name", "", "Display name (default: derived from the email)")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&in.Department, "department", "", "Department")
	cmd.Flags().StringVar(&role, "role", "", "Admin, Manager or Member (default Member)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newUsersRoleCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "role ID ROLE",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := rbac.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("%w: %q", rbac.ErrUnknownRole, args[1])
			}
			before, err := app.Directory.UpdateRole(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			result := map[string]string{"id": args[0], "before": string(before), "after": string(role)}
			return opts.print(cmd.OutOrStdout(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: %s -> %s\n", args[0], before, role)
				return err
			})
		},
	}
}
