package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

const seedYAML = `
customFields:
  Currency: [USD, CHF]
rules:
  - permission: delete tasks
    admin: true
    manager: true
    member: false
`

func writeSeed(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSeed(t *testing.T) {
	path := writeSeed(t, t.TempDir(), seedYAML)

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.False(t, seed.Overwrite)
	assert.Equal(t, []string{"USD", "CHF"}, seed.CustomFields["Currency"])
	require.Len(t, seed.Rules, 1)
	assert.Equal(t, rbac.PermissionRule{Permission: rbac.ActionDeleteTasks, Admin: true, Manager: true}, seed.Rules[0])
}

func TestLoadSeed_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", "customFields: [unterminated"},
		{"unknown action", "rules:\n  - permission: Fly\n"},
		{"duplicate rule", "rules:\n  - permission: View Tasks\n  - permission: view tasks\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSeed(writeSeed(t, dir, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadSeed(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestApplySeedFile(t *testing.T) {
	svc, _ := setupServiceTest(t)
	ctx := context.Background()
	path := writeSeed(t, t.TempDir(), seedYAML)

	s, err := ApplySeedFile(ctx, svc, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "CHF"}, s.Options("Currency"))
	rule, ok := rbac.FindRule(s.Rules, rbac.ActionDeleteTasks)
	require.True(t, ok)
	assert.True(t, rule.Manager)
}

func TestWatchSeed(t *testing.T) {
	svc, _ := setupServiceTest(t)
	dir := t.TempDir()
	path := writeSeed(t, dir, "customFields:\n  Label: [One]\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchSeed(ctx, svc, path, nil) }()

	// give the watcher time to register before writing
	time.Sleep(100 * time.Millisecond)
	writeSeed(t, dir, "overwrite: true\ncustomFields:\n  Label: [Two]\n")

	require.Eventually(t, func() bool {
		s, _, err := svc.Get(context.Background())
		return err == nil && len(s.Options("Label")) == 1 && s.Options("Label")[0] == "Two"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
