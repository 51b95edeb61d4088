package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/config"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/middleware"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		cfg    config.StoreConfig
		redis  bool
		errMsg string
	}{
		{name: "memory", cfg: config.StoreConfig{Backend: config.BackendMemory}},
		{name: "sqlite", cfg: config.StoreConfig{Backend: config.BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "tasks.db")}},
		{name: "redis", cfg: config.StoreConfig{Backend: config.BackendRedis, RedisAddr: mr.Addr()}, redis: true},
		{name: "unknown", cfg: config.StoreConfig{Backend: "mongo"}, errMsg: "unknown store backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStore(ctx, tt.cfg, nil, nil)
			if tt.errMsg != "" {
				assert.ErrorContains(t, err, tt.errMsg)
				return
			}
			require.NoError(t, err)
			defer store.Close()

			assert.Equal(t, tt.cfg.Backend, store.Backend)
			assert.Equal(t, tt.redis, store.Redis != nil)
			require.NoError(t, store.Ping(ctx))

			ref := docstore.NewRef("probe", "one")
			_, err = docstore.Create(ctx, store, ref, map[string]interface{}{"ok": true})
			require.NoError(t, err)
			doc, err := store.Get(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, true, doc.Data["ok"])
		})
	}
}

func TestOpenAudit(t *testing.T) {
	ctx := context.Background()

	recorder, closeFn, err := OpenAudit(ctx, config.AuditConfig{}, nil)
	require.NoError(t, err)
	assert.NotNil(t, recorder)
	assert.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "audit.log")
	recorder, closeFn, err = OpenAudit(ctx, config.AuditConfig{FilePath: path, MaxFileSize: 1 << 20, MaxFiles: 2}, nil)
	require.NoError(t, err)
	_, ok := recorder.Logger().(*audit.FileLogger)
	assert.True(t, ok)
	recorder.Record(ctx, audit.NewEvent(ctx, audit.EventTypeTaskCreate, audit.EventStatusSuccess))
	require.NoError(t, closeFn())
	assert.FileExists(t, path)
}

func TestNewAuthenticator(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), config.AuthConfig{Mode: config.AuthModeHeader})
	require.NoError(t, err)
	assert.IsType(t, auth.HeaderAuthenticator{}, a)

	_, err = NewAuthenticator(context.Background(), config.AuthConfig{Mode: "basic"})
	assert.ErrorContains(t, err, "unknown auth mode")
}

func TestNewLimiter(t *testing.T) {
	cfg := config.Default()

	limiter, closeFn, err := NewLimiter(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)
	assert.NoError(t, closeFn())

	cfg.RateLimit.Enabled = true
	limiter, closeFn, err = NewLimiter(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &middleware.MemoryLimiter{}, limiter)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	cfg.RateLimit.Backend = config.BackendRedis
	cfg.Store.RedisAddr = mr.Addr()
	limiter, closeFn, err = NewLimiter(cfg, nil)
	require.NoError(t, err)
	defer closeFn()
	decision, err := limiter.Allow(context.Background(), "user:ann")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestNewServices(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	svc, err := NewServices(store, config.Default(), audit.NewRecorder(nil, nil), nil, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Settings.Stop)

	_, err = svc.SettingsService.InitializeDefaults(ctx)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Settings.WaitReady(waitCtx))
	require.Eventually(t, func() bool { return len(svc.Settings.Rules()) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, svc.Resolver.Can(rbac.RoleMember, rbac.ActionViewTasks))

	admin, err := svc.Directory.Add(ctx, users.NewUser{Name: "Root", Email: "root@example.com", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	task, err := svc.Tasks.Create(ctx, *admin, tasks.Draft{Title: "Wire it up"})
	require.NoError(t, err)
	assert.Equal(t, "T-001", task.ID)
}
