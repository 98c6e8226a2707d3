// Package settings holds the runtime order settings (sizing overrides,
// timeouts, feature flags) backed by a YAML document. Readers get immutable
// point-in-time snapshots; a background watcher polls the file and swaps in
// a new snapshot when the document changes by value.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// watchPaths are the settings the watcher reports changes for, old -> new.
var watchPaths = []string{
	"order_settings.use_take_profit",
	"order_settings.use_trailing_stop",
	"order_settings.cancel_legs_on_timeout",
	"order_settings.overrides.trail_amount",
	"order_settings.overrides.stop_loss",
	"order_settings.overrides.take_profit",
	"order_settings.overrides.quantity",
	"order_settings.overrides.tp_quantity",
	"order_settings.overrides.ts_quantity",
	"order_settings.timeouts.fill_or_cancel",
	"order_settings.timeouts.bracket_fill",
}

// Snapshot is an immutable view of the settings document. It must never be
// mutated after publication; the engine reads one snapshot per request.
type Snapshot struct {
	v    *viper.Viper
	tree map[string]any
}

func newSnapshot(tree map[string]any) *Snapshot {
	v := viper.New()
	if tree != nil {
		// MergeConfigMap only fails on unreadable input; a parsed YAML tree
		// is always acceptable.
		_ = v.MergeConfigMap(tree)
	}
	return &Snapshot{v: v, tree: tree}
}

// Get returns the value at the dot-separated path, or def when the path is
// absent or explicitly null.
func (s *Snapshot) Get(path string, def any) any {
	raw := s.v.Get(path)
	if raw == nil {
		return def
	}
	return raw
}

// GetFloat returns the float64 at path, or def when absent or null.
func (s *Snapshot) GetFloat(path string, def float64) float64 {
	raw := s.v.Get(path)
	if raw == nil {
		return def
	}
	return cast.ToFloat64(raw)
}

// GetInt returns the int at path, or def when absent or null.
func (s *Snapshot) GetInt(path string, def int) int {
	raw := s.v.Get(path)
	if raw == nil {
		return def
	}
	return cast.ToInt(raw)
}

// GetBool returns the bool at path, or def when absent or null.
func (s *Snapshot) GetBool(path string, def bool) bool {
	raw := s.v.Get(path)
	if raw == nil {
		return def
	}
	return cast.ToBool(raw)
}

// GetSeconds reads a numeric seconds value at path and returns it as a
// duration. The settings document stores timeouts as plain numbers.
func (s *Snapshot) GetSeconds(path string, def time.Duration) time.Duration {
	raw := s.v.Get(path)
	if raw == nil {
		return def
	}
	return time.Duration(cast.ToFloat64(raw) * float64(time.Second))
}

// Tree returns the raw settings document for serving over the admin API.
func (s *Snapshot) Tree() map[string]any { return s.tree }

// Store owns the settings file and publishes snapshots. Reads never block on
// an in-flight update or watch cycle longer than an atomic pointer load.
type Store struct {
	path     string
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex // serialises Update and watcher reloads
	lastMod time.Time
	snap    atomic.Pointer[Snapshot]
}

// New creates a Store backed by the YAML document at path, loading the
// current contents. A missing file is not an error: the store starts with an
// empty snapshot and picks the file up once it appears.
func New(path string, interval time.Duration, log *slog.Logger) (*Store, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	s := &Store{path: path, interval: interval, log: log}
	s.snap.Store(newSnapshot(nil))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("settings file missing, starting with defaults", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	tree, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
	}
	if fi, err := os.Stat(path); err == nil {
		s.lastMod = fi.ModTime()
	}
	s.snap.Store(newSnapshot(tree))
	return s, nil
}

// Snapshot returns the current immutable settings snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Update merges the dot-path/value pairs into the persisted document,
// rewrites the file, and publishes a new snapshot. Sibling keys that are not
// named in updates are left untouched. The swap is atomic with respect to
// readers: a snapshot is either fully the old or fully the new document.
func (s *Store) Update(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := map[string]any{}
	if data, err := os.ReadFile(s.path); err == nil {
		parsed, err := parseDocument(data)
		if err != nil {
			return fmt.Errorf("settings file is not valid YAML, refusing update: %w", err)
		}
		tree = parsed
	}

	for path, value := range updates {
		setPath(tree, path, value)
	}

	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("serialising settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	if fi, err := os.Stat(s.path); err == nil {
		s.lastMod = fi.ModTime()
	}

	old := s.snap.Load()
	s.snap.Store(newSnapshot(tree))
	s.logChanges(old.tree, tree)
	s.log.Info("settings updated", "paths", len(updates))
	return nil
}

// Watch polls the settings file until ctx is cancelled. Detected document
// changes are swapped in; parse failures are reported and leave the previous
// snapshot in effect.
func (s *Store) Watch(ctx context.Context) error {
	s.log.Info("watching settings file", "path", s.path, "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.reload()
		}
	}
}

// reload re-reads the file if its mtime moved and swaps the snapshot when
// the parsed document differs by value from the current one.
func (s *Store) reload() {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if err != nil {
		return // File absent or unreadable — keep the current snapshot.
	}
	if fi.ModTime().Equal(s.lastMod) {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn("reading settings file", "error", err)
		return
	}
	tree, err := parseDocument(data)
	if err != nil {
		s.log.Warn("settings file has a parse error, keeping previous snapshot", "error", err)
		return
	}
	s.lastMod = fi.ModTime()

	old := s.snap.Load()
	if reflect.DeepEqual(old.tree, tree) {
		return
	}
	s.snap.Store(newSnapshot(tree))
	s.log.Info("settings reloaded", "path", s.path)
	s.logChanges(old.tree, tree)
}

func (s *Store) logChanges(oldTree, newTree map[string]any) {
	for _, path := range watchPaths {
		oldVal := lookupPath(oldTree, path)
		newVal := lookupPath(newTree, path)
		if !reflect.DeepEqual(oldVal, newVal) {
			s.log.Info("settings change", "path", path, "old", oldVal, "new", newVal)
		}
	}
}

func parseDocument(data []byte) (map[string]any, error) {
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// setPath writes value at the dot-separated path, creating intermediate
// maps as needed. A scalar in the middle of the path is replaced by a map.
func setPath(tree map[string]any, path string, value any) {
	keys := splitPath(path)
	cur := tree
	for _, key := range keys[:len(keys)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

func lookupPath(tree map[string]any, path string) any {
	cur := any(tree)
	for _, key := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func splitPath(path string) []string {
	var keys []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i > start {
				keys = append(keys, path[start:i])
			}
			start = i + 1
		}
	}
	return keys
}
