// Package tail watches a directory tree of session logs and streams
// newly appended lines. Position tracking is an explicit per-file
// cursor map rather than any OS-level persistent handle, so rotation
// and truncation reduce to cursor arithmetic.
package tail

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// logSuffix selects the session-log files worth watching.
const logSuffix = ".jsonl"

// Line is one complete log line with its origin file.
type Line struct {
	Path string
	Text []byte
}

// Tailer tails every session log under a root directory. Files present
// at startup are read from their current end; files created later are
// read from the beginning.
type Tailer struct {
	root  string
	out   chan<- Line
	log   *zap.Logger
	mu    sync.Mutex
	files map[string]*cursor
}

// New creates a tailer that sends lines to out.
func New(root string, out chan<- Line, log *zap.Logger) *Tailer {
	return &Tailer{
		root:  root,
		out:   out,
		log:   log,
		files: make(map[string]*cursor),
	}
}

// Run blocks until ctx is cancelled. Watch registration failures for
// subdirectories degrade coverage with a warning instead of failing:
// the host may cap the number of watches.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	t.discover(watcher)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			t.handle(ctx, watcher, ev)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn("filesystem watch error", zap.Error(err))
		}
	}
}

// Forget stops tailing a file whose session has ended.
func (t *Tailer) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.files[path]; c != nil {
		c.done = true
	}
}

// discover walks the root, registering watches and seeding cursors at
// end-of-file for logs that already exist (no backlog replay).
func (t *Tailer) discover(watcher *fsnotify.Watcher) {
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				t.log.Warn("cannot watch directory, continuing degraded",
					zap.String("dir", path), zap.Error(addErr))
			}
			return nil
		}
		if !isLogFile(path) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		t.mu.Lock()
		t.files[path] = &cursor{offset: info.Size()}
		t.mu.Unlock()
		return nil
	})
	if err != nil {
		t.log.Warn("log discovery incomplete", zap.Error(err))
	}
}

func (t *Tailer) handle(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if addErr := watcher.Add(ev.Name); addErr != nil {
				t.log.Warn("cannot watch new directory, continuing degraded",
					zap.String("dir", ev.Name), zap.Error(addErr))
			}
			return
		}
		if !isLogFile(ev.Name) {
			return
		}
		// New files are read from the start.
		t.mu.Lock()
		if _, ok := t.files[ev.Name]; !ok {
			t.files[ev.Name] = &cursor{}
		}
		t.mu.Unlock()
		t.drain(ctx, ev.Name)

	case ev.Has(fsnotify.Write):
		if isLogFile(ev.Name) {
			t.drain(ctx, ev.Name)
		}

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		t.mu.Lock()
		delete(t.files, ev.Name)
		t.mu.Unlock()
	}
}

// drain reads newly appended lines from a file and forwards them.
func (t *Tailer) drain(ctx context.Context, path string) {
	t.mu.Lock()
	c := t.files[path]
	if c == nil {
		c = &cursor{}
		t.files[path] = c
	}
	if c.done {
		t.mu.Unlock()
		return
	}
	lines, err := c.readNew(path)
	t.mu.Unlock()

	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn("cannot read log file",
				zap.String("file", filepath.Base(path)), zap.Error(err))
		}
		return
	}

	for _, line := range lines {
		select {
		case t.out <- Line{Path: path, Text: line}:
		case <-ctx.Done():
			return
		}
	}
}

// Tracked returns the number of files with live cursors. For tests and
// the health of the cursor map.
func (t *Tailer) Tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

func isLogFile(path string) bool {
	return strings.HasSuffix(path, logSuffix) && !strings.HasSuffix(path, ".tmp")
}
