// Package settings manages the application settings singleton stored at
// settings/global: the custom field option lists offered by task forms and
// the permission rules read by the rbac resolver.
//
// Controller keeps a live copy and serves as the resolver's rule source:
//
//	ctrl := settings.NewController(store, logger, metrics)
//	resolver := rbac.NewResolver(ctrl)
//	_ = ctrl.Start()
//
// Service performs writes. Custom field edits replace one category and
// leave the rest untouched; InitializeDefaults and seed files only fill in
// what is missing unless the seed asks to overwrite.
package settings
