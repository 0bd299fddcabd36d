package calcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"beamline/internal/calibration"
	"beamline/internal/config"
	"beamline/internal/logging"
)

// Entry is one cached calibration: per-unit corrections plus the shared
// stimulus result, stamped with an explicit creation time and TTL.
type Entry struct {
	CreatedAt  time.Time                     `json:"created_at"`
	TTLSeconds int                           `json:"ttl_seconds"`
	PerUnit    map[string]calibration.Result `json:"per_unit_results"`
	Stimulus   *calibration.Result           `json:"shared_stimulus_result,omitempty"`
}

// TTL returns the entry's validity window as a duration.
func (e Entry) TTL() time.Duration {
	return time.Duration(e.TTLSeconds) * time.Second
}

// FreshAt reports whether the entry is still valid at the given instant.
// An entry exactly at its TTL boundary is already expired.
func (e Entry) FreshAt(now time.Time) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) < e.TTL()
}

// Age returns how old the entry is at the given instant.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Store provides TTL-checked access to the calibration cache file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes store construction.
type Option func(*Store)

// WithClock overrides the wall clock, used by tests to step time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a cache store backed by the given file path.
func New(path string, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: logging.NewComponentLogger(logger, "calcache"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key derives the cache key for a configuration: the frequency-plan
// fingerprint plus the participating unit names, so a changed sweep or array
// layout never matches stale corrections.
func Key(cfg *config.Config, plan calibration.Plan) string {
	key := plan.Fingerprint()
	for _, unit := range cfg.ActiveUnits() {
		key += "|" + unit.Name
	}
	return key
}

// Get returns the entry for key when present and fresh. Expired entries are
// reported as absent, never returned. A missing cache file is absent, not an
// error.
func (s *Store) Get(key string) (Entry, bool, error) {
	entries, err := s.load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}

	entry, ok := entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	now := s.now()
	if !entry.FreshAt(now) {
		s.logger.Info("cached calibration expired",
			logging.String(logging.FieldEventType, "calcache_expired"),
			logging.Duration("age", entry.Age(now)),
			logging.Duration("ttl", entry.TTL()))
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put stores the entry under key, stamping CreatedAt when unset. The write
// happens under an advisory file lock; concurrent writers serialize and the
// last one wins.
func (s *Store) Put(key string, entry Entry) error {
	if key == "" {
		return errors.New("cache key must not be empty")
	}
	if entry.TTLSeconds <= 0 {
		return fmt.Errorf("entry ttl %d must be positive", entry.TTLSeconds)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	return s.mutate(func(entries map[string]Entry) {
		entries[key] = entry
	})
}

// Invalidate removes the entry for key. Removing an absent key is a no-op.
func (s *Store) Invalidate(key string) error {
	return s.mutate(func(entries map[string]Entry) {
		delete(entries, key)
	})
}

// Clear removes the cache file entirely.
func (s *Store) Clear() error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	return nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Entries returns every cached entry keyed by configuration fingerprint,
// including expired ones. A missing cache file yields an empty map.
func (s *Store) Entries() (map[string]Entry, error) {
	entries, err := s.load()
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) mutate(apply func(map[string]Entry)) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer s.releaseLock(lock)

	entries, err := s.load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// A corrupt cache is recoverable: start over rather than wedge
		// every future calibration behind an unreadable file.
		s.logger.Warn("cache file unreadable, rewriting",
			logging.Error(err),
			logging.String(logging.FieldEventType, "calcache_rewrite"),
			logging.String(logging.FieldImpact, "previously cached calibrations are discarded"),
			logging.String(logging.FieldErrorHint, "a fresh calibration will repopulate the cache"))
		entries = nil
	}
	if entries == nil {
		entries = make(map[string]Entry)
	}

	apply(entries)
	return s.save(entries)
}

func (s *Store) load() (map[string]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *Store) save(entries map[string]Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

func (s *Store) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	return lock, nil
}

func (s *Store) releaseLock(lock *flock.Flock) {
	if err := lock.Unlock(); err != nil {
		s.logger.Warn("failed to release cache lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "calcache_unlock_failed"),
			logging.String(logging.FieldErrorHint, "remove the .lock file if it persists"))
	}
}
