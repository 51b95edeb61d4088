package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

const dateLayout = "2006-01-02"

func newTasksCmd(app *App, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks",
	}
	cmd.AddCommand(
		newTasksNextIDCmd(app),
		newTasksListCmd(app, opts),
		newTasksCreateCmd(app, opts),
		newTasksDeleteCmd(app, opts),
		newTasksSummaryCmd(app, opts),
	)
	return cmd
}

func newTasksNextIDCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "next-id",
		Short: "Print the id the next created task would get",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app.Tasks.Allocator().NextID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newTasksListCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tasks visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := opts.actor(ctx, app)
			if err != nil {
				return err
			}
			list, err := app.Tasks.ListVisible(ctx, actor)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), list, func(w io.Writer) error {
				if len(list) == 0 {
					_, err := fmt.Fprintln(w, "No tasks found.")
					return err
				}
				rows := make([][]string, 0, len(list))
				for _, t := range list {
					assignee := "-"
					if t.Assignee != nil {
						assignee = orDash(t.Assignee.Name)
					}
					due := "-"
					if t.DueDate != nil {
						due = t.DueDate.Format(dateLayout)
					}
					rows = append(rows, []string{t.ID, t.Title, string(t.Status), string(t.Priority), assignee, due})
				}
				return table(w, []string{"ID", "TITLE", "STATUS", "PRIORITY", "ASSIGNEE", "DUE"}, rows)
			})
		},
	}
}

func newTasksCreateCmd(app *App, opts *options) *cobra.Command {
	var (
		draft            tasks.Draft
		status, priority string
		assignee, due    string
		viewers          []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := opts.actor(ctx, app)
			if err != nil {
				return err
			}

			draft.Status = tasks.Status(status)
			draft.Priority = tasks.Priority(priority)
			if due != "" {
				d, err := time.Parse(dateLayout, due)
				if err != nil {
					return fmt.Errorf("invalid due date %q: %w", due, err)
				}
				draft.DueDate = &d
			}
			if assignee != "" {
				u, err := lookupUser(ctx, app, assignee)
				if err != nil {
					return err
				}
				draft.Assignee = &u
			}
			for _, id := range viewers {
				u, err := lookupUser(ctx, app, id)
				if err != nil {
					return err
				}
				draft.Viewers = append(draft.Viewers, u)
			}

			created, err := app.Tasks.Create(ctx, actor, draft)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), created, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Created task %s: %s\n", created.ID, created.Title)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&draft.Title, "title", "", "Task title")
	cmd.Flags().StringVar(&draft.Description, "description", "", "Task description")
	cmd.Flags().StringVar(&draft.Label, "label", "", "Label")
	cmd.Flags().StringVar(&draft.Department, "department", "", "Department")
	cmd.Flags().StringVar(&status, "status", "", "Status (default Pending)")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (default Medium)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee user id (default: the acting user)")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&viewers, "viewer", nil, "User id allowed to view the task (repeatable)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func newTasksDeleteCmd(app *App, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := opts.actor(ctx, app)
			if err != nil {
				return err
			}
			if err := app.Tasks.Delete(ctx, actor, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
			return nil
		},
	}
}

func newTasksSummaryCmd(app *App, opts *options) *cobra.Command {
	var (
		filter   tasks.SummaryFilter
		statuses []string
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Sum task amounts per currency",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			actor, err := opts.actor(ctx, app)
			if err != nil {
				return err
			}
			for _, s := range statuses {
				status, ok := tasks.ParseStatus(s)
				if !ok {
					return fmt.Errorf("%w: %q", tasks.ErrInvalidStatus, s)
				}
				filter.Statuses = append(filter.Statuses, status)
			}

			summary, err := app.Tasks.Summary(ctx, actor, filter)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), summary, func(w io.Writer) error {
				rows := make([][]string, 0, len(summary))
				for _, c := range summary.Currencies() {
					t := summary[c]
					rows = append(rows, []string{c, money(t.TotalInitialDemand), money(t.TotalOfficialPayment), money(t.TotalMotivation), money(t.GrandTotal)})
				}
				return table(w, []string{"CURRENCY", "INITIAL DEMAND", "OFFICIAL", "MOTIVATION", "GRAND TOTAL"}, rows)
			})
		},
	}

	cmd.Flags().IntVar(&filter.Year, "year", 0, "Only tasks entered in this year")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only tasks with these statuses")
	cmd.Flags().StringSliceVar(&filter.Labels, "label", nil, "Only tasks with these labels")

	return cmd
}

func lookupUser(ctx context.Context, app *App, id string) (users.User, error) {
	u, err := app.Directory.Get(ctx, id)
	if err != nil {
		return users.User{}, fmt.Errorf("user %q: %w", id, err)
	}
	return *u, nil
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
