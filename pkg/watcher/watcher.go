// Package watcher implements the Watcher component (§4.J): a debounced
// stream of local filesystem change events for the sync engine.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/logging"
)

// EventKind classifies one filesystem change (§4.J).
type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one debounced, filtered change notification.
type Event struct {
	Path string
	Kind EventKind
}

const debounceWindow = 100 * time.Millisecond

// Watcher wraps fsnotify with a debounce coalescing window and exclude
// filtering, started and stopped alongside a sync session.
type Watcher struct {
	root     string
	excludes []string
	fsw      *fsnotify.Watcher
	events   chan Event
	done     chan struct{}
	log      zerolog.Logger
}

// New creates a Watcher rooted at root, recursively adding every
// directory beneath it, filtering events whose relative path matches
// any exclude glob.
func New(root string, excludes []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, ldroperr.IOError(err)
	}

	w := &Watcher{
		root:     root,
		excludes: excludes,
		fsw:      fsw,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
		log:      logging.New("watcher"),
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel, excl := w.classify(path); excl && rel != "." {
				return filepath.SkipDir
			}
			return fsw.Add(path)
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		return nil, ldroperr.IOError(err)
	}

	go w.run()
	return w, nil
}

// Events returns the channel of debounced, filtered change events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the underlying notifier and the debounce goroutine.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.events)

	pending := make(map[string]*pendingEvent)
	var mu sync.Mutex
	ticker := time.NewTicker(debounceWindow / 2)
	defer ticker.Stop()

	flush := func() {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now()
		for path, pe := range pending {
			if now.Sub(pe.last) >= debounceWindow {
				select {
				case w.events <- Event{Path: path, Kind: pe.kind}:
				case <-w.done:
					return
				}
				delete(pending, path)
			}
		}
	}

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			flush()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			rel, excluded := w.classify(ev.Name)
			if excluded {
				continue
			}
			kind, ok := mapOp(ev.Op)
			if !ok {
				continue
			}
			if kind == Created {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.fsw.Add(ev.Name)
				}
			}
			mu.Lock()
			pending[rel] = &pendingEvent{kind: kind, last: time.Now()}
			mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watcher notify error")
		}
	}
}

type pendingEvent struct {
	kind EventKind
	last time.Time
}

func mapOp(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return Created, true
	case op&fsnotify.Write != 0:
		return Modified, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return Deleted, true
	default:
		return 0, false
	}
}

func (w *Watcher) classify(absPath string) (rel string, excluded bool) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return absPath, false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.excludes {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return rel, true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return rel, true
		}
	}
	return rel, false
}
