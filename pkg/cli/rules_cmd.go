package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

func newRulesCmd(app *App, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit permission rules",
	}
	cmd.AddCommand(
		newRulesListCmd(app, opts),
		newRulesSetCmd(app, opts),
		newRulesResetCmd(app),
	)
	return cmd
}

func newRulesListCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the permission table",
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, stored, err := app.Rules.EffectiveRules(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), rules, func(w io.Writer) error {
				if !stored {
					fmt.Fprintln(w, "No rules stored; showing defaults.")
				}
				rows := make([][]string, 0, len(rules))
				for _, r := range rules {
					rows = append(rows, []string{string(r.Permission), yesNo(r.Admin), yesNo(r.Manager), yesNo(r.Member)})
				}
				return table(w, []string{"PERMISSION", "ADMIN", "MANAGER", "MEMBER"}, rows)
			})
		},
	}
}

func newRulesSetCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set PERMISSION ROLE allow|deny",
		Short: "Allow or deny a permission for a role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := rbac.ParseAction(args[0])
			if err != nil {
				return err
			}
			role, ok := rbac.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("%w: %q", rbac.ErrUnknownRole, args[1])
			}
			var allowed bool
			switch strings.ToLower(args[2]) {
			case "allow", "true", "yes":
				allowed = true
			case "deny", "false", "no":
			default:
				return fmt.Errorf("expected allow or deny, got %q", args[2])
			}

			_, after, err := app.Rules.SetRule(cmd.Context(), action, role, allowed)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), after, func(w io.Writer) error {
				verb := "denied"
				if allowed {
					verb = "allowed"
				}
				_, err := fmt.Fprintf(w, "%s %s for %s\n", action, verb, role)
				return err
			})
		},
	}
}

func newRulesResetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Replace the stored rules with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Rules.ResetRules(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Permission rules reset to defaults")
			return nil
		},
	}
}
