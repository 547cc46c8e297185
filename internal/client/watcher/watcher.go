// Package watcher turns fsnotify notifications below a sync root into a
// typed stream of file and directory events. Hidden entries are skipped,
// new directories are watched as they appear, bursts of writes to one file
// are coalesced, and a rename followed by a create within a short window is
// reported as a single move.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/firebox/internal/filex"
	"github.com/dmitrijs2005/firebox/internal/logging"
	"github.com/fsnotify/fsnotify"
)

const (
	defaultMoveWindow = 200 * time.Millisecond
	defaultDebounce   = 300 * time.Millisecond
	tickInterval      = 50 * time.Millisecond
)

// watchList is the subset of *fsnotify.Watcher used for bookkeeping.
type watchList interface {
	Add(name string) error
	Remove(name string) error
}

type pendingRename struct {
	path string
	kind Kind
	at   time.Time
}

type pendingWrite struct {
	op Op
	at time.Time
}

type Watcher struct {
	root string
	fsw  *fsnotify.Watcher
	log  logging.Logger

	MoveWindow time.Duration
	Debounce   time.Duration

	// state below is owned by the Run goroutine
	watches watchList
	dirs    map[string]struct{}
	rename  *pendingRename
	writes  map[string]pendingWrite
	emit    func(Event)

	events chan Event
}

// New watches root and every non-hidden directory below it.
func New(root string, log logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	w := newWatcher(root, fsw, log)
	w.fsw = fsw
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func newWatcher(root string, watches watchList, log logging.Logger) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		log:        log,
		MoveWindow: defaultMoveWindow,
		Debounce:   defaultDebounce,
		watches:    watches,
		dirs:       make(map[string]struct{}),
		writes:     make(map[string]pendingWrite),
		events:     make(chan Event, 256),
	}
	return w
}

// Events is closed when Run returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

func (w *Watcher) skip(path string) bool {
	return !filex.IsWithin(w.root, path) || filex.HasHiddenComponent(w.root, path)
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.skip(path) {
			return filepath.SkipDir
		}
		if err := w.watches.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		w.dirs[path] = struct{}{}
		return nil
	})
}

func under(prefix, path string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator))
}

func (w *Watcher) dropTree(dir string) {
	for d := range w.dirs {
		if under(dir, d) {
			_ = w.watches.Remove(d)
			delete(w.dirs, d)
		}
	}
}

func (w *Watcher) kindOf(path string) Kind {
	if _, ok := w.dirs[path]; ok {
		return Directory
	}
	return File
}

// Run pumps notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	w.emit = func(e Event) {
		select {
		case w.events <- e:
		case <-ctx.Done():
		}
	}

	w.log.Info(ctx, "Watching directory", "root", w.root)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev, time.Now())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "watcher error", "error", err)
		case now := <-ticker.C:
			w.tick(now)
		}
	}
}

func (w *Watcher) flushRename() {
	if w.rename == nil {
		return
	}
	r := w.rename
	w.rename = nil
	if r.kind == Directory {
		w.dropTree(r.path)
	}
	w.emit(Event{Op: MovedFrom, Kind: r.kind, Path: r.path})
}

func (w *Watcher) schedule(path string, op Op, now time.Time) {
	if p, ok := w.writes[path]; ok && p.op == Created {
		op = Created
	}
	w.writes[path] = pendingWrite{op: op, at: now}
}

func (w *Watcher) handle(ev fsnotify.Event, now time.Time) {
	path := filepath.Clean(ev.Name)
	if w.skip(path) || path == w.root {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.created(path, now)
	case ev.Has(fsnotify.Write):
		if w.kindOf(path) == File {
			w.schedule(path, Modified, now)
		}
	case ev.Has(fsnotify.Remove):
		delete(w.writes, path)
		if w.rename != nil && w.rename.path == path {
			return
		}
		kind := w.kindOf(path)
		if kind == Directory {
			w.dropTree(path)
		}
		w.emit(Event{Op: Deleted, Kind: kind, Path: path})
	case ev.Has(fsnotify.Rename):
		// a watched directory reports its own move as well
		if w.rename != nil && w.rename.path == path {
			return
		}
		w.flushRename()
		delete(w.writes, path)
		w.rename = &pendingRename{path: path, kind: w.kindOf(path), at: now}
	}
}

func (w *Watcher) created(path string, now time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		// gone again before we could look at it
		return
	}
	kind := File
	if info.IsDir() {
		kind = Directory
		if w.rename != nil && w.rename.kind == Directory {
			w.dropTree(w.rename.path)
		}
		if err := w.addTree(path); err != nil {
			w.log.Warn(context.Background(), "failed to watch directory", "path", path, "error", err)
		}
	}

	if w.rename != nil {
		from := w.rename.path
		w.rename = nil
		w.emit(Event{Op: MovedTo, Kind: kind, Path: path, From: from})
		return
	}
	if kind == Directory {
		w.emit(Event{Op: Created, Kind: Directory, Path: path})
		return
	}
	w.schedule(path, Created, now)
}

func (w *Watcher) tick(now time.Time) {
	if w.rename != nil && now.Sub(w.rename.at) >= w.MoveWindow {
		w.flushRename()
	}
	for path, p := range w.writes {
		if now.Sub(p.at) < w.Debounce {
			continue
		}
		delete(w.writes, path)
		w.emit(Event{Op: p.op, Kind: File, Path: path})
	}
}
