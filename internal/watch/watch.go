// Package watch bridges OS filesystem events to the Reload Controller's
// "a library changed" signal (spec §2 component 13, §5 "the file watcher
// runs on its own goroutine and only ever sends on a buffered channel").
// It never touches registry, heap, or dispatch state directly — only the
// goroutine driving Controller.Run does that, keeping every runtime
// mutation on one call path as spec §5 requires.
package watch

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports that path is ready to be (re)loaded. Debounced: a burst of
// writes to the same file (a compiler typically truncates then writes)
// collapses into one Event.
type Event struct {
	Path string
}

// Watcher debounces fsnotify write/create events on a set of paths and
// republishes them on Changes.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	Changes  chan Event
	errs     chan error
	done     chan struct{}
}

// New creates a Watcher that debounces bursts of events on the same path
// within debounce of each other before emitting one Event.
func New(debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		Changes:  make(chan Event, 16),
		errs:     make(chan error, 16),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Add watches dir (non-recursively, matching fsnotify's own model) for
// assembly changes. Call once per directory an emberctl watch or a host
// program wants to track.
func (w *Watcher) Add(dir string) error {
	return w.fsw.Add(dir)
}

// Errs surfaces fsnotify's own internal errors (e.g. a watched directory
// was removed), kept separate from Changes so a consumer can select on
// both without type-switching one channel.
func (w *Watcher) Errs() <-chan error {
	return w.errs
}

// Close stops the watcher and its goroutine. Safe to call once.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	pending := make(map[string]*time.Timer)
	fire := make(chan string, 16)

	for {
		select {
		case <-w.done:
			for _, t := range pending {
				t.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isLoadCandidate(ev) {
				continue
			}
			path := ev.Name
			if t, ok := pending[path]; ok {
				t.Stop()
			}
			pending[path] = time.AfterFunc(w.debounce, func() { fire <- path })
		case path := <-fire:
			delete(pending, path)
			select {
			case w.Changes <- Event{Path: path}:
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-w.done:
				return
			}
		}
	}
}

// isLoadCandidate reports whether ev is worth debouncing towards a
// reload: a write or create of a compiled plugin image or its manifest
// sidecar. Renames and removes are ignored; a build tool replacing a
// file in place is always observed as a Create or Write of the final
// name, never a Rename this watcher needs to react to.
func isLoadCandidate(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	switch filepath.Ext(ev.Name) {
	case ".so", ".embmeta":
		return true
	default:
		return false
	}
}
