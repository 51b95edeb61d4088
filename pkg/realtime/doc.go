// Package realtime keeps a per-user live view of the task collection.
//
// A Controller follows an auth.Provider and the permission rules. While
// the user is signed in and may view tasks it holds exactly one
// subscription to the task collection; every push is normalized, checked
// against the current role and filtered with tasks.Visible before being
// published. A change of user, of the auth loading state or of the View
// Tasks capability tears the subscription down before a new one starts.
//
//	c := realtime.NewController(realtime.Options{
//		Store:    store,
//		Auth:     session,
//		Resolver: resolver,
//		Settings: settingsController,
//	})
//	c.Start()
//	defer c.Close()
//	remove := c.OnChange(func(v realtime.View) { render(v.Tasks, v.Loading) })
//	defer remove()
//
// Subscription errors leave the last good tasks in place and are not
// retried. A Registry lets a watchdog replace subscriptions that have gone
// silent for longer than Options.LivenessTimeout.
package realtime
