package settings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// Seed is the YAML seed file format:
//
//	overwrite: false
//	customFields:
//	  Priority: [Low, Medium, High]
//	rules:
//	  - permission: Delete Tasks
//	    admin: true
//	    manager: true
//	    member: false
type Seed struct {
	Overwrite    bool                  `yaml:"overwrite"`
	CustomFields map[string][]string   `yaml:"customFields"`
	Rules        []rbac.PermissionRule `yaml:"rules"`
}

// Settings returns the seeded settings
func (s Seed) Settings() AppSettings {
	return AppSettings{CustomFields: s.CustomFields, Rules: s.Rules}
}

// LoadSeed reads and validates a seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	for i, r := range seed.Rules {
		action, err := rbac.ParseAction(string(r.Permission))
		if err != nil {
			return nil, fmt.Errorf("seed file %s: %w", path, err)
		}
		seed.Rules[i].Permission = action
	}
	if err := rbac.ValidateRules(seed.Rules); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeedFile loads path and applies it through svc
func ApplySeedFile(ctx context.Context, svc *Service, path string) (AppSettings, error) {
	seed, err := LoadSeed(path)
	if err != nil {
		return AppSettings{}, err
	}
	return svc.Apply(ctx, seed.Settings(), seed.Overwrite)
}

// seedDebounce coalesces the bursts of events editors produce on save
const seedDebounce = 250 * time.Millisecond

// WatchSeed re-applies the seed file whenever it changes until ctx is
// done. The parent directory is watched so that editors replacing the file
// by rename are noticed. Invalid files are logged and skipped.
func WatchSeed(ctx context.Context, svc *Service, path string, logger *observability.Logger) error {
	logger = observability.OrNop(logger).WithField("seed_file", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve seed file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("Watching settings seed file")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(seedDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Seed watcher error")
		case <-timer.C:
			if _, err := ApplySeedFile(ctx, svc, abs); err != nil {
				logger.WithError(err).Warn("Failed to apply seed file")
				continue
			}
			logger.Info("Seed file re-applied")
		}
	}
}
