// Package tracker observes workspace file changes while an agent runs.
// It is the evidence source for reporting touched files when the workspace
// is not under version control.
package tracker

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gitignore "github.com/sabhiram/go-gitignore"
)

const debounceInterval = 500 * time.Millisecond

var defaultIgnores = []string{".git", "node_modules", "vendor", "dist", "build", "target"}

// Tracker watches a workspace root and accumulates the set of files that
// changed since the last Reset. Batches of changes are also delivered to an
// optional callback, debounced so editor-style write bursts arrive once.
type Tracker struct {
	root    string
	watcher *fsnotify.Watcher
	ignore  *gitignore.GitIgnore
	onBatch func([]string)

	mu      sync.Mutex
	pending map[string]bool
	seen    map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a tracker for root. Call Start to begin watching.
func New(root string) (*Tracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		root:    root,
		watcher: watcher,
		ignore:  gitignore.CompileIgnoreLines(defaultIgnores...),
		pending: make(map[string]bool),
		seen:    make(map[string]bool),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// OnBatch sets the debounced change callback. Must be called before Start.
func (t *Tracker) OnBatch(fn func([]string)) {
	t.onBatch = fn
}

// Start registers the workspace directories with the watcher and begins
// processing events.
func (t *Tracker) Start() error {
	err := filepath.WalkDir(t.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && t.ignore.MatchesPath(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := t.watcher.Add(path); err != nil {
				log.Printf("[tracker] cannot watch %s: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk workspace: %w", err)
	}

	t.wg.Add(2)
	go t.eventLoop()
	go t.debounceLoop()
	return nil
}

// Stop shuts the tracker down and releases the watcher.
func (t *Tracker) Stop() error {
	t.cancel()
	t.wg.Wait()
	return t.watcher.Close()
}

func (t *Tracker) eventLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.noteEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[tracker] watch error: %v", err)
		}
	}
}

func (t *Tracker) noteEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(t.root, event.Name)
	if err != nil || rel == "." {
		return
	}
	if t.ignore.MatchesPath(rel) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := t.watcher.Add(event.Name); err != nil {
				log.Printf("[tracker] cannot watch new directory %s: %v", event.Name, err)
			}
			return
		}
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		t.mu.Lock()
		t.pending[rel] = true
		t.seen[rel] = true
		t.mu.Unlock()
	}
}

func (t *Tracker) debounceLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.flush()
		}
	}
}

func (t *Tracker) flush() {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	batch := make([]string, 0, len(t.pending))
	for path := range t.pending {
		batch = append(batch, path)
	}
	t.pending = make(map[string]bool)
	t.mu.Unlock()

	if t.onBatch != nil {
		sort.Strings(batch)
		t.onBatch(batch)
	}
}

// Changed returns every file path seen since the last Reset, sorted.
func (t *Tracker) Changed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.seen))
	for path := range t.seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Reset clears the accumulated change set, typically at the start of a run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.pending = make(map[string]bool)
	t.seen = make(map[string]bool)
	t.mu.Unlock()
}
