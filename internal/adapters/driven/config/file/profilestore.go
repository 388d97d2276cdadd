package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/catalog-sync/internal/core/domain"
	"github.com/custodia-labs/catalog-sync/internal/core/ports/driven"
	"github.com/custodia-labs/catalog-sync/internal/logger"
)

// Ensure ProfileStore implements the interface.
var _ driven.ProfileStore = (*ProfileStore)(nil)

// ProfilesFile is the default profiles file name.
const ProfilesFile = "profiles.toml"

// profileFile is the on-disk layout:
//
//	[profiles.default]
//	language = "en"
//	currency = "EUR"
//	interval = "1h"
//	enabled = true
//
//	[profiles.eu.filters]
//	region = "eu"
//
// The "default" table configures the empty scope.
type profileFile struct {
	Profiles map[string]profileEntry `toml:"profiles"`
}

type profileEntry struct {
	Name            string            `toml:"name"`
	Filters         map[string]string `toml:"filters"`
	Language        string            `toml:"language"`
	Currency        string            `toml:"currency"`
	PriceMultiplier float64           `toml:"price_multiplier"`
	Enabled         bool              `toml:"enabled"`
	Interval        string            `toml:"interval"`
}

// ProfileStore reads scope profiles from a TOML file.
type ProfileStore struct {
	mu       sync.RWMutex
	filePath string
	profiles map[string]domain.Profile
}

// NewProfileStore creates a store backed by the given file.
// If path is empty, defaults to ~/.catalogsync/profiles.toml.
// A missing file is not an error; only the default profile is served.
func NewProfileStore(path string) (*ProfileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".catalogsync", ProfilesFile)
	}

	s := &ProfileStore{
		filePath: path,
		profiles: make(map[string]domain.Profile),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the profiles file path.
func (s *ProfileStore) Path() string {
	return s.filePath
}

// Load reads the profiles file, replacing the profiles held in memory.
// On error the previous profiles are kept.
func (s *ProfileStore) Load() error {
	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.profiles = make(map[string]domain.Profile)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading profiles: %w", err)
	}

	var f profileFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing profiles %s: %w", s.filePath, err)
	}

	profiles := make(map[string]domain.Profile, len(f.Profiles))
	for key, e := range f.Profiles {
		p, err := e.toProfile(key)
		if err != nil {
			return err
		}
		profiles[p.ID] = p
	}

	s.mu.Lock()
	s.profiles = profiles
	s.mu.Unlock()
	return nil
}

// Get returns the profile of a scope.
func (s *ProfileStore) Get(_ context.Context, scope string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.profiles[scope]; ok {
		return &p, nil
	}
	if scope == "" {
		p := domain.DefaultProfile()
		return &p, nil
	}
	return nil, fmt.Errorf("profile %s: %w", scope, domain.ErrNotFound)
}

// List returns every configured profile ordered by scope.
func (s *ProfileStore) List(_ context.Context) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Watch reloads the file whenever it changes and then calls onChange.
// The parent directory is watched so editors that replace the file are
// handled. Watch blocks until ctx is cancelled.
func (s *ProfileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	name := filepath.Clean(s.filePath)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Load(); err != nil {
				logger.Warn("profiles: reload failed: %v", err)
				continue
			}
			logger.Debug("profiles: reloaded %s", s.filePath)
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("profiles: watcher error: %v", err)
		}
	}
}

func (e profileEntry) toProfile(key string) (domain.Profile, error) {
	id := key
	if key == domain.DefaultScope {
		id = ""
	}

	p := domain.Profile{
		ID:              id,
		Name:            e.Name,
		Filters:         e.Filters,
		Language:        e.Language,
		Currency:        e.Currency,
		PriceMultiplier: e.PriceMultiplier,
		Enabled:         e.Enabled,
	}
	if e.Interval != "" {
		d, err := time.ParseDuration(e.Interval)
		if err != nil {
			return p, fmt.Errorf("profile %s: invalid interval %q: %w", key, e.Interval, domain.ErrInvalidInput)
		}
		p.Interval = d
	}

	def := domain.DefaultProfile()
	if p.Language == "" {
		p.Language = def.Language
	}
	if p.Currency == "" {
		p.Currency = def.Currency
	}
	return p, nil
}
