// Package statestore persists authstate.State to a single JSON file with
// atomic writes, a one-writer lock (in-process + cross-process), an
// in-memory cache invalidated by filesystem change notifications, and a
// deterministic on-disk migration chain. See spec.md §4.5.
package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wireterm/wireterm/server/internal/authstate"
)

// Store manages one state file under dataDir named "<name>-auth.json".
type Store struct {
	dataDir string
	name    string

	lockTimeoutMs int64

	ticket  *ticketMutex
	watcher *fsnotify.Watcher

	cacheMu sync.Mutex
	warm    bool
	cached  *authstate.State
}

// Options configures a Store.
type Options struct {
	DataDir          string
	Name             string
	LockTimeoutMs    int64
}

// New opens a Store rooted at opts.DataDir. It starts a best-effort
// filesystem watcher to invalidate the cache on external changes; a
// watcher creation failure is logged and non-fatal (spec.md §4.5).
func New(opts Options) (*Store, error) {
	if opts.Name == "" {
		opts.Name = "wireterm"
	}
	if opts.LockTimeoutMs <= 0 {
		opts.LockTimeoutMs = 5000
	}

	s := &Store{
		dataDir:       opts.DataDir,
		name:          opts.Name,
		lockTimeoutMs: opts.LockTimeoutMs,
		ticket:        newTicketMutex(),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("statestore: fsnotify watcher unavailable, cache invalidation degraded to lock-path only: %v", err)
		return s, nil
	}
	if err := watcher.Add(opts.DataDir); err != nil {
		log.Printf("statestore: failed to watch %s, cache invalidation degraded to lock-path only: %v", opts.DataDir, err)
		watcher.Close()
		return s, nil
	}
	s.watcher = watcher
	go s.watchLoop()
	return s, nil
}

// Close stops the filesystem watcher, if any.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

func (s *Store) watchLoop() {
	target := filepath.Base(s.path())
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == target {
				s.invalidateCache()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("statestore: fsnotify error: %v", err)
		}
	}
}

func (s *Store) path() string {
	return filepath.Join(s.dataDir, s.name+"-auth.json")
}

func (s *Store) lockPath() string {
	return s.path() + ".lock"
}

// invalidateCache marks the cache cold, forcing the next Load to re-read
// the file from disk.
func (s *Store) invalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.warm = false
	s.cached = nil
}

func (s *Store) setCache(state *authstate.State) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.warm = true
	s.cached = state
}

func (s *Store) getCache() (state *authstate.State, warm bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cached, s.warm
}

// Load returns the current state, or nil if no state exists yet. It
// serves from cache when warm; otherwise it reads the file, runs the
// migration chain, prunes expired setup tokens once, and re-caches.
// A missing file or corrupt content is non-fatal: both cache nil and
// return (nil, nil).
func (s *Store) Load(ctx context.Context, now int64) (*authstate.State, error) {
	if cached, warm := s.getCache(); warm {
		return cached, nil
	}

	raw, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		s.setCache(nil)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: read state file: %w", err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		log.Printf("statestore: %s is empty, treating as no state", s.path())
		s.setCache(nil)
		return nil, nil
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		log.Printf("statestore: %s failed to parse (%v), treating as no state", s.path(), err)
		s.setCache(nil)
		return nil, nil
	}

	migrated, ranAny := migrateRaw(generic, now)

	migratedJSON, err := json.Marshal(migrated)
	if err != nil {
		return nil, fmt.Errorf("statestore: re-marshal migrated state: %w", err)
	}

	var state authstate.State
	if err := state.UnmarshalJSON(migratedJSON); err != nil {
		log.Printf("statestore: %s failed strict decode after migration (%v), treating as no state", s.path(), err)
		s.setCache(nil)
		return nil, nil
	}

	if ranAny {
		if err := s.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("statestore: save migrated state: %w", err)
		}
	}

	pruned := state.PruneExpiredTokens(now)
	if len(pruned.SetupTokens) != len(state.SetupTokens) {
		state = pruned
		if err := s.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("statestore: save after expiry prune: %w", err)
		}
	}

	s.setCache(&state)
	return &state, nil
}

// Save serializes state and atomically replaces the state file: write to
// "<path>.tmp.<pid>" with mode 0600, then rename over the final path. The
// cache is updated before returning.
func (s *Store) Save(_ context.Context, state authstate.State) error {
	data, err := state.JSON()
	if err != nil {
		return fmt.Errorf("statestore: marshal state: %w", err)
	}

	if err := os.MkdirAll(s.dataDir, 0700); err != nil {
		return fmt.Errorf("statestore: ensure data dir: %w", err)
	}

	tmpPath := s.path() + ".tmp." + strconv.Itoa(os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: rename temp file: %w", err)
	}

	s.setCache(&state)
	return nil
}

