package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ragpipe/ragcore/pkg/logger"
	"github.com/ragpipe/ragcore/pkg/pipelineerr"
)

// Pattern is one compiled regex entry within an intent's pattern list.
type Pattern struct {
	Regex      string    `json:"regex"`
	Confidence float64   `json:"confidence"`
	Examples   []string  `json:"examples,omitempty"`
	MatchCount int64     `json:"match_count"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	AddedDate  time.Time `json:"added_date,omitempty"`
	Source     string    `json:"source,omitempty"` // "" (hand-authored) or "auto_learned"
	Description string   `json:"description,omitempty"`

	compiled *regexp.Regexp
}

// intentPatterns is one intent's pattern list as stored on disk.
type intentPatterns struct {
	Priority    int       `json:"priority"`
	Description string    `json:"description"`
	Patterns    []Pattern `json:"patterns"`
}

// libraryFile is the on-disk JSON shape of pattern_library.json.
type libraryFile struct {
	Patterns      map[string]intentPatterns `json:"patterns"`
	LastUpdated   time.Time                 `json:"last_updated,omitempty"`
	LearningStats struct {
		PatternsLearned int `json:"patterns_learned"`
	} `json:"learning_stats"`
}

// Library is the compiled, immutable snapshot the matcher reads from. A new
// Library is built on every load/reload and swapped in atomically so
// concurrent Classify calls never observe a partially-updated library.
type Library struct {
	byIntent map[Name][]Pattern
}

func compileLibrary(raw libraryFile) (*Library, error) {
	lib := &Library{byIntent: make(map[Name][]Pattern, len(raw.Patterns))}
	for intentName, ip := range raw.Patterns {
		compiled := make([]Pattern, 0, len(ip.Patterns))
		for _, p := range ip.Patterns {
			re, err := regexp.Compile("(?im)" + p.Regex)
			if err != nil {
				return nil, pipelineerr.NewParseError("intent.compileLibrary", fmt.Errorf("intent %q: invalid regex %q: %w", intentName, p.Regex, err))
			}
			p.compiled = re
			compiled = append(compiled, p)
		}
		lib.byIntent[Name(intentName)] = compiled
	}
	return lib, nil
}

// LibraryStore holds the live, hot-reloadable pattern library plus the
// machinery (fsnotify debounced watch, atomic rewrite) to keep it in sync
// with pattern_library.json, grounded on the config file provider's
// watch/debounce/rewatch discipline.
type LibraryStore struct {
	path string
	cur  atomic.Pointer[Library]

	watcher      *fsnotify.Watcher
	closeCh      chan struct{}
	lastReloadAt atomic.Int64 // unix nanos
}

// lastReload returns the time of the most recent successful reload.
func (s *LibraryStore) lastReload() time.Time {
	ns := s.lastReloadAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// NewLibraryStore loads path (creating an empty library if it does not yet
// exist) and returns a store ready to serve Current().
func NewLibraryStore(path string) (*LibraryStore, error) {
	s := &LibraryStore{path: path, closeCh: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the live pattern library.
func (s *LibraryStore) Current() *Library {
	return s.cur.Load()
}

func (s *LibraryStore) reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		lib, _ := compileLibrary(libraryFile{Patterns: map[string]intentPatterns{}})
		s.cur.Store(lib)
		s.lastReloadAt.Store(time.Now().UnixNano())
		return nil
	}
	if err != nil {
		return pipelineerr.NewInternal("intent.LibraryStore.reload", err)
	}

	var raw libraryFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return pipelineerr.NewParseError("intent.LibraryStore.reload", err)
	}

	lib, err := compileLibrary(raw)
	if err != nil {
		return err
	}
	s.cur.Store(lib)
	s.lastReloadAt.Store(time.Now().UnixNano())
	return nil
}

// readRaw loads the on-disk library into its mutable JSON representation,
// for callers (the learner) that need to append to it before persisting.
func (s *LibraryStore) readRaw() (libraryFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return libraryFile{Patterns: map[string]intentPatterns{}}, nil
	}
	if err != nil {
		return libraryFile{}, pipelineerr.NewInternal("intent.LibraryStore.readRaw", err)
	}

	var raw libraryFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return libraryFile{}, pipelineerr.NewParseError("intent.LibraryStore.readRaw", err)
	}
	if raw.Patterns == nil {
		raw.Patterns = map[string]intentPatterns{}
	}
	return raw, nil
}

// persist atomically rewrites pattern_library.json with raw, then reloads
// the in-memory library from the freshly written file.
func (s *LibraryStore) persist(raw libraryFile) error {
	raw.LastUpdated = time.Now().UTC()
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return pipelineerr.NewInternal("intent.LibraryStore.persist", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pattern-library-*.tmp")
	if err != nil {
		return pipelineerr.NewInternal("intent.LibraryStore.persist", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return pipelineerr.NewInternal("intent.LibraryStore.persist", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return pipelineerr.NewInternal("intent.LibraryStore.persist", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return pipelineerr.NewInternal("intent.LibraryStore.persist", err)
	}
	return s.reload()
}

// Watch starts a debounced fsnotify watch on the library file's directory
// and reloads the in-memory library whenever it changes on disk.
func (s *LibraryStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pipelineerr.NewInternal("intent.LibraryStore.Watch", err)
	}
	s.watcher = watcher

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return pipelineerr.NewInternal("intent.LibraryStore.Watch", err)
	}

	go s.watchLoop(ctx, watcher)
	return nil
}

func (s *LibraryStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	base := filepath.Base(s.path)
	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		case <-s.closeCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := s.reload(); err != nil {
						logger.FromContext(ctx).Error("pattern library reload failed", "error", err)
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.FromContext(ctx).Error("pattern library watcher error", "error", err)
		}
	}
}

// Close stops the background watch, if one was started.
func (s *LibraryStore) Close() error {
	close(s.closeCh)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
