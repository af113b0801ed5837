package userconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// InvalidateFunc is called after any mutation so a collaborator (the alert
// engine's user cache) can drop its own copy.
type InvalidateFunc func()

// Store is a keyed, file-backed UserConfig store: a single human-readable
// keyed file in the data directory, rewritten atomically on each mutation.
// Cooldowns, pending alerts, and mute timers are not persisted here.
type Store struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	byID    map[string]*UserConfig
	onWrite InvalidateFunc
}

// fileRecord is the on-disk shape: a flat map keyed by user id.
type fileRecord map[string]*UserConfig

// Open loads the store from path, creating an empty one if the file does
// not yet exist. A malformed existing file is startup-fatal; the operator
// must repair it.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger, byID: make(map[string]*UserConfig)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user config store %s: %w", path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt user config store %s: %w", path, err)
	}
	s.byID = rec
	return s, nil
}

// OnInvalidate registers the callback fired after every mutating call.
func (s *Store) OnInvalidate(fn InvalidateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// Get returns a copy of the user's config, or (nil, false) if unknown.
func (s *Store) Get(userID string) (*UserConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.byID[userID]
	if !ok {
		return nil, false
	}
	clone := *cfg
	return &clone, true
}

// ActiveUsers returns a snapshot of every currently-active user config.
func (s *Store) ActiveUsers() []*UserConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*UserConfig, 0, len(s.byID))
	for _, cfg := range s.byID {
		if cfg.Active {
			clone := *cfg
			out = append(out, &clone)
		}
	}
	return out
}

// Save upserts a user's config and rewrites the backing file atomically.
func (s *Store) Save(cfg *UserConfig) error {
	s.mu.Lock()
	clone := *cfg
	s.byID[cfg.UserID] = &clone
	err := s.flushLocked()
	onWrite := s.onWrite
	s.mu.Unlock()

	if onWrite != nil {
		onWrite()
	}
	return err
}

// SetActive flips a user's active flag (e.g. on permission-denied from the
// dispatcher, or re-activation when the user initiates contact).
func (s *Store) SetActive(userID string, active bool) error {
	s.mu.Lock()
	cfg, ok := s.byID[userID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown user %s", userID)
	}
	cfg.Active = active
	err := s.flushLocked()
	onWrite := s.onWrite
	s.mu.Unlock()

	if onWrite != nil {
		onWrite()
	}
	return err
}

// Mute adds symbol to the user's blacklist (idempotent) and persists it.
// The paired expiry timer lives in dispatch.MuteTable, not here.
func (s *Store) Mute(userID, symbol string) error {
	s.mu.Lock()
	cfg, ok := s.byID[userID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown user %s", userID)
	}
	if !contains(cfg.Blacklist, symbol) {
		cfg.Blacklist = append(cfg.Blacklist, symbol)
	}
	err := s.flushLocked()
	onWrite := s.onWrite
	s.mu.Unlock()

	if onWrite != nil {
		onWrite()
	}
	return err
}

// Unmute removes symbol from the user's blacklist.
func (s *Store) Unmute(userID, symbol string) error {
	s.mu.Lock()
	cfg, ok := s.byID[userID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown user %s", userID)
	}
	cfg.Blacklist = remove(cfg.Blacklist, symbol)
	err := s.flushLocked()
	onWrite := s.onWrite
	s.mu.Unlock()

	if onWrite != nil {
		onWrite()
	}
	return err
}

// flushLocked rewrites the backing file atomically (write to a temp file in
// the same directory, then rename) while s.mu is held.
func (s *Store) flushLocked() error {
	rec := make(fileRecord, len(s.byID))
	for id, cfg := range s.byID {
		rec[id] = cfg
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user config store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".userconfig-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp user config file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp user config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp user config file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp user config file: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Int("users", len(rec)).Msg("user config store flushed")
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
