package skills

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RegistryBuildError is a whole-build failure, e.g. two manifests sharing a
// name. The caller may choose to keep serving the prior snapshot.
type RegistryBuildError struct {
	Root    string
	Message string
}

func (e *RegistryBuildError) Error() string {
	return fmt.Sprintf("build registry at %s: %s", e.Root, e.Message)
}

// ErrSkillNotFound is returned by Get when no manifest has the given name.
type ErrSkillNotFound string

func (e ErrSkillNotFound) Error() string { return fmt.Sprintf("skill not found: %s", string(e)) }

// Snapshot is an immutable mapping of skill name to manifest, built from a
// single walk of Root at BuiltAt. It is never mutated after construction;
// a Registry replaces its pointer to a Snapshot wholesale on refresh.
type Snapshot struct {
	Root    string
	BuiltAt time.Time
	byName  map[string]*Manifest
	sorted  []*Manifest
}

// Get performs an O(1) lookup by name. A nil snapshot (no successful
// build yet) behaves as an empty catalog.
func (s *Snapshot) Get(name string) (*Manifest, error) {
	if s == nil {
		return nil, ErrSkillNotFound(name)
	}
	m, ok := s.byName[name]
	if !ok {
		return nil, ErrSkillNotFound(name)
	}
	return m, nil
}

// List returns manifests in name-sorted order. The slice is shared and
// must not be mutated by callers.
func (s *Snapshot) List() []*Manifest {
	if s == nil {
		return nil
	}
	return s.sorted
}

// SummarizeForPrompt renders a compact catalog of executable manifests
// (name and description), each followed by the name and description of any
// related_tools entries it names that exist in the snapshot. Every
// executable manifest appears exactly once at top level; a
// documentation-only manifest appears only inlined under a parent that
// names it.
func (s *Snapshot) SummarizeForPrompt() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, m := range s.sorted {
		if !m.Executable {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", m.Name, m.Description)
		for _, relName := range m.RelatedTools {
			rel, ok := s.byName[relName]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  related (%s): %s\n", rel.Name, rel.Description)
		}
	}
	return b.String()
}

// Registry discovers manifests under a root directory and serves an
// atomically-refreshable snapshot of them. It is the only process-wide
// mutable state in the orchestration core: a single writer (Refresh, called
// on build or on a watch event) replaces the pointer; many readers load it
// without ever blocking on a writer.
type Registry struct {
	root   string
	logger *slog.Logger

	snap atomic.Pointer[Snapshot]

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// NewRegistry creates a registry rooted at root. Call Build before serving
// any requests; the registry holds no snapshot until then.
func NewRegistry(root string) *Registry {
	return &Registry{
		root:   root,
		logger: slog.Default().With("component", "skills"),
	}
}

// Build walks root, parses every ManifestFilename it finds, and replaces
// the current snapshot atomically. Per-file parse failures are logged and
// excluded from the snapshot (non-fatal); a duplicate name fails the whole
// build and leaves the prior snapshot, if any, in place.
func (r *Registry) Build(ctx context.Context) error {
	byName := make(map[string]*Manifest)
	paths := make(map[string]string)
	gating := NewGatingContext()

	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Name() != ManifestFilename {
			return nil
		}

		m, perr := ParseManifestFile(path)
		if perr != nil {
			r.logger.Warn("skipping unparseable manifest", "path", path, "error", perr)
			return nil
		}

		if ok, reason := m.Eligible(gating); !ok {
			r.logger.Warn("skipping ineligible skill", "path", path, "reason", reason)
			return nil
		}

		if _, dup := byName[m.Name]; dup {
			return &RegistryBuildError{
				Root:    r.root,
				Message: fmt.Sprintf("duplicate skill name %q at %s and %s", m.Name, paths[m.Name], m.Path),
			}
		}
		byName[m.Name] = m
		paths[m.Name] = path
		return nil
	})
	if err != nil {
		return err
	}

	sorted := make([]*Manifest, 0, len(byName))
	for _, m := range byName {
		sorted = append(sorted, m)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	r.snap.Store(&Snapshot{
		Root:    r.root,
		BuiltAt: time.Now(),
		byName:  byName,
		sorted:  sorted,
	})
	r.logger.Info("skill registry built", "root", r.root, "count", len(sorted))
	return nil
}

// Refresh is an alias for Build kept for call-site clarity at watch-event
// and HTTP-refresh-endpoint sites.
func (r *Registry) Refresh(ctx context.Context) error {
	return r.Build(ctx)
}

// Snapshot returns the current snapshot. Callers should hold the returned
// pointer for the lifetime of one request rather than calling Snapshot
// repeatedly, so a concurrent refresh can't hand them a mix of old and new
// state mid-request.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

// Get is a convenience that loads the current snapshot and looks up name.
func (r *Registry) Get(name string) (*Manifest, error) {
	snap := r.snap.Load()
	if snap == nil {
		return nil, ErrSkillNotFound(name)
	}
	return snap.Get(name)
}

// StartWatching watches the registry root for filesystem changes and
// rebuilds the snapshot, debounced, on any create/write/remove/rename.
func (r *Registry) StartWatching(ctx context.Context, debounce time.Duration) error {
	if r.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.root); err != nil {
		_ = watcher.Close()
		return err
	}
	r.watcher = watcher
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, debounce)
	return nil
}

// Close stops the watcher, if one is running.
func (r *Registry) Close() error {
	if r.watchCancel != nil {
		r.watchCancel()
	}
	var err error
	if r.watcher != nil {
		err = r.watcher.Close()
	}
	r.watchWg.Wait()
	return err
}

func (r *Registry) watchLoop(ctx context.Context, debounce time.Duration) {
	defer r.watchWg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleRebuild := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Build(context.Background()); err != nil {
				r.logger.Warn("skill registry rebuild failed, keeping prior snapshot", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleRebuild()
			}
		case werr, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("skill registry watch error", "error", werr)
		}
	}
}
