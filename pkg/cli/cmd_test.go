package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// testApp wires an App over an in-memory store
func testApp(t *testing.T) *App {
	t.Helper()
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	resolver := rbac.NewResolver(rbac.StaticRules(rbac.DefaultRules()))
	directory := users.NewDirectory(store, users.DirectoryConfig{}, nil)
	return &App{
		Directory: directory,
		Rules:     rbac.NewRuleStore(store, settings.Ref, nil),
		Settings:  settings.NewService(store, nil),
		Tasks: tasks.NewService(store, resolver, directory, tasks.NewAppender(store, nil, nil),
			audit.NewRecorder(nil, nil), nil, nil),
	}
}

// executeCmd runs the root command and captures its output
func executeCmd(t *testing.T, app *App, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(app)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRulesCmd(t *testing.T) {
	app := testApp(t)

	out, err := executeCmd(t, app, "rules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No rules stored; showing defaults.")
	assert.Contains(t, out, "Delete Tasks")

	out, err = executeCmd(t, app, "rules", "set", "delete tasks", "manager", "allow")
	require.NoError(t, err)
	assert.Equal(t, "Delete Tasks allowed for Manager\n", out)

	out, err = executeCmd(t, app, "--json", "rules", "list")
	require.NoError(t, err)
	var rules []rbac.PermissionRule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	rule, ok := rbac.FindRule(rules, rbac.ActionDeleteTasks)
	require.True(t, ok)
	assert.True(t, rule.Manager)

	_, err = executeCmd(t, app, "rules", "set", "Fly", "Admin", "allow")
	assert.ErrorIs(t, err, rbac.ErrUnknownAction)
	_, err = executeCmd(t, app, "rules", "set", "View Tasks", "Admin", "maybe")
	assert.ErrorContains(t, err, "expected allow or deny")

	_, err = executeCmd(t, app, "rules", "reset")
	require.NoError(t, err)
	stored, err := app.Rules.Rules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rbac.DefaultRules(), stored)
}

func TestSettingsCmd(t *testing.T) {
	app := testApp(t)

	out, err := executeCmd(t, app, "settings", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Settings initialized")

	out, err = executeCmd(t, app, "settings", "fields", "set", "Currency", "USD", " EUR ", "USD")
	require.NoError(t, err)
	assert.Contains(t, out, "Currency: USD, EUR (was: USD, EUR, GBP, AED)")

	s, _, err := app.Settings.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "EUR"}, s.Options("Currency"))
	assert.NotEmpty(t, s.Options("Priority"))
}

func TestUsersCmd(t *testing.T) {
	app := testApp(t)

	out, err := executeCmd(t, app, "users", "add", "--id", "ann", "--email", "ann@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user ann (ann@example.com, Member)")

	_, err = executeCmd(t, app, "users", "add", "--email", "x@example.com", "--role", "Owner")
	assert.ErrorIs(t, err, rbac.ErrUnknownRole)

	out, err = executeCmd(t, app, "users", "role", "ann", "manager")
	require.NoError(t, err)
	assert.Equal(t, "ann: Member -> Manager\n", out)

	out, err = executeCmd(t, app, "users", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ann@example.com")
	assert.Contains(t, out, "Manager")
}

func TestTasksCmd(t *testing.T) {
	app := testApp(t)
	_, err := executeCmd(t, app, "users", "add", "--id", "ann", "--name", "Ann", "--email", "ann@example.com")
	require.NoError(t, err)
	_, err = executeCmd(t, app, "users", "add", "--id", "bob", "--name", "Bob", "--email", "bob@example.com")
	require.NoError(t, err)

	out, err := executeCmd(t, app, "tasks", "next-id")
	require.NoError(t, err)
	assert.Equal(t, "T-001\n", out)

	out, err = executeCmd(t, app, "tasks", "create", "--title", "File report", "--assignee", "ann", "--due", "2030-01-31")
	require.NoError(t, err)
	assert.Equal(t, "Created task T-001: File report\n", out)
	_, err = executeCmd(t, app, "tasks", "create", "--title", "Bob's", "--assignee", "bob")
	require.NoError(t, err)

	_, err = executeCmd(t, app, "tasks", "create", "--title", "Bad", "--due", "31/01/2030")
	assert.ErrorContains(t, err, "invalid due date")
	_, err = executeCmd(t, app, "tasks", "create", "--title", "Nobody", "--assignee", "ghost")
	assert.ErrorIs(t, err, users.ErrUserNotFound)

	// Members see only their own tasks
	out, err = executeCmd(t, app, "--as", "ann", "tasks", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "File report")
	assert.Contains(t, out, "2030-01-31")
	assert.NotContains(t, out, "Bob's")

	out, err = executeCmd(t, app, "--json", "tasks", "list")
	require.NoError(t, err)
	var list []tasks.Task
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 2)

	_, err = executeCmd(t, app, "--as", "ann", "tasks", "delete", "T-001")
	assert.ErrorIs(t, err, tasks.ErrPermissionDenied)
	out, err = executeCmd(t, app, "tasks", "delete", "T-001")
	require.NoError(t, err)
	assert.Equal(t, "Deleted task T-001\n", out)

	out, err = executeCmd(t, app, "tasks", "next-id")
	require.NoError(t, err)
	assert.Equal(t, "T-003\n", out)
}

func TestTasksSummaryCmd(t *testing.T) {
	app := testApp(t)
	ctx := context.Background()
	_, err := app.Tasks.Create(ctx, Operator, tasks.Draft{
		Title:                      "Claim",
		OfficialSettlement:         100,
		OfficialSettlementCurrency: "EUR",
		Motivation:                 20,
		MotivationCurrency:         "EUR",
	})
	require.NoError(t, err)

	out, err := executeCmd(t, app, "tasks", "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "EUR")
	assert.Contains(t, out, "120.00")

	_, err = executeCmd(t, app, "tasks", "summary", "--status", "Bogus")
	assert.ErrorIs(t, err, tasks.ErrInvalidStatus)
}

func TestActAsUnknownUser(t *testing.T) {
	app := testApp(t)
	_, err := executeCmd(t, app, "--as", "ghost", "tasks", "list")
	assert.ErrorContains(t, err, `cannot act as "ghost"`)
}
