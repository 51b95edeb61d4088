package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tasktrax/pkg/settings"
)

func newSettingsCmd(app *App, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage application settings",
	}

	fields := &cobra.Command{
		Use:   "fields",
		Short: "Manage custom field options",
	}
	fields.AddCommand(newSettingsFieldsSetCmd(app, opts))

	cmd.AddCommand(newSettingsInitCmd(app, opts), fields)
	return cmd
}

func newSettingsInitCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Seed default custom fields and permission rules; existing values are kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Settings.InitializeDefaults(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), s, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Settings initialized: %d custom field categories, %d rules\n", len(s.CustomFields), len(s.Rules))
				return err
			})
		},
	}
}

func newSettingsFieldsSetCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set CATEGORY VALUE...",
		Short: "Replace the options of a custom field category",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := app.Settings.UpdateCustomFields(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			values := settings.CleanValues(args[1:])
			return opts.print(cmd.OutOrStdout(), map[string][]string{args[0]: values}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: %s (was: %s)\n", args[0], strings.Join(values, ", "), orDash(strings.Join(before, ", ")))
				return err
			})
		},
	}
}
