package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/realtime"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

var admin = users.User{ID: "root", Name: "Root", Email: "root@example.com", Role: rbac.RoleAdmin}

func TestOverdueSweepJob(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	resolver := rbac.NewResolver(rbac.StaticRules(rbac.DefaultRules()))
	svc := tasks.NewService(store, resolver, users.NewDirectory(store, users.DirectoryConfig{}, nil), tasks.NewAppender(store, nil, nil),
		audit.NewRecorder(audit.NewNoOpLogger(), nil), nil, nil)

	due := time.Now().AddDate(0, 0, -3)
	_, err := svc.Create(ctx, admin, tasks.Draft{Title: "Late", DueDate: &due})
	require.NoError(t, err)
	later := time.Now().AddDate(0, 0, 3)
	_, err = svc.Create(ctx, admin, tasks.Draft{Title: "On time", DueDate: &later})
	require.NoError(t, err)

	job := OverdueSweep(tasks.NewOverdueSweeper(svc, nil, nil), nil)
	require.NoError(t, job(ctx))

	late, err := svc.Get(ctx, admin, "T-001")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusOverdue, late.Status)
	onTime, err := svc.Get(ctx, admin, "T-002")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusPending, onTime.Status)
}

func TestWatchdogJob(t *testing.T) {
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	session := auth.NewSession()
	c := realtime.NewController(realtime.Options{
		Store:           store,
		Auth:            session,
		Resolver:        rbac.NewResolver(rbac.StaticRules(rbac.DefaultRules())),
		LivenessTimeout: time.Nanosecond,
	})
	c.Start()
	t.Cleanup(c.Close)
	session.SignIn(admin)
	require.Eventually(t, func() bool { return c.State() == realtime.StateLive }, time.Second, 5*time.Millisecond)

	registry := realtime.NewRegistry()
	registry.Add(c)

	require.NoError(t, Watchdog(registry, nil)(context.Background()))
	assert.Eventually(t, func() bool { return c.State() == realtime.StateLive }, time.Second, 5*time.Millisecond)
}
