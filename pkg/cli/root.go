package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// Operator is the identity commands act as when --as is not given
var Operator = users.User{ID: "operator", Name: "Operator", Email: "operator@localhost", Role: rbac.RoleAdmin}

// App holds the services the commands operate on
type App struct {
	Directory *users.Directory
	Rules     *rbac.RuleStore
	Settings  *settings.Service
	Tasks     *tasks.Service
}

// options are the persistent flags shared by every command
type options struct {
	as   string
	json bool
}

// NewRootCmd creates the top-level "tasktrax" command and registers all
// subcommands against app
func NewRootCmd(app *App) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tasktrax",
		Short:         "Administer the task tracker: rules, settings, tasks and users",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.as, "as", "", "Act as this user id (default: built-in admin operator)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print JSON instead of tables")

	root.AddCommand(
		newRulesCmd(app, opts),
		newSettingsCmd(app, opts),
		newTasksCmd(app, opts),
		newUsersCmd(app, opts),
	)
	return root
}

// actor resolves the user commands act as
func (o *options) actor(ctx context.Context, app *App) (users.User, error) {
	if o.as == "" {
		return Operator, nil
	}
	u, err := app.Directory.Get(ctx, o.as)
	if err != nil {
		return users.User{}, fmt.Errorf("cannot act as %q: %w", o.as, err)
	}
	return *u, nil
}

// print writes v as indented JSON when --json is set and calls table
// otherwise
func (o *options) print(w io.Writer, v interface{}, table func(w io.Writer) error) error {
	if !o.json {
		return table(w)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
