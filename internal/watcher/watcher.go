// Package watcher turns fsnotify notifications for the website directory and
// the artifact tree into timestamped queue signals.
package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fsmweb/uploader/internal/queue"
)

// Event is a filesystem change detected under a watched root.
type Event struct {
	// Path is the absolute path of the file that changed.
	Path string
	// Op is the operation that occurred.
	Op queue.Op
	// Time is the wall-clock time of detection.
	Time time.Time
}

// Options configures a Watcher.
type Options struct {
	// Recursive watches every subdirectory of each root, including ones
	// created after Start.
	Recursive bool

	// Suffixes restricts events to basenames ending in one of these strings.
	// Empty means every file.
	Suffixes []string

	// Now stamps events. Defaults to time.Now.
	Now func() time.Time

	// Logger for watcher diagnostics
	Logger *log.Logger
}

// Watcher watches one or more directory roots for file changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	opts    Options
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	roots   []string
}

// New creates a Watcher. It must be started with Start before it emits events.
func New(opts Options) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	return &Watcher{
		watcher: fw,
		opts:    opts,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the given roots.
func (w *Watcher) Start(roots ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if len(roots) == 0 {
		return fmt.Errorf("no directories to watch")
	}

	var added []string
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", root, err)
		}
		if err := w.addRoot(abs); err != nil {
			for _, r := range added {
				_ = w.watcher.Remove(r)
			}
			return err
		}
		added = append(added, abs)
	}
	w.roots = added

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

func (w *Watcher) addRoot(root string) error {
	if !w.opts.Recursive {
		if err := w.watcher.Add(root); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", root, err)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		return nil
	})
}

// Stop stops watching and blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)

	return nil
}

// Events returns the channel of file events. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ev, ok := w.convertEvent(event); ok {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to an Event. New subdirectories are
// added to the watch set in recursive mode and never reported themselves.
func (w *Watcher) convertEvent(event fsnotify.Event) (Event, bool) {
	var op queue.Op
	switch {
	case event.Has(fsnotify.Create):
		op = queue.OpCreate
	case event.Has(fsnotify.Write):
		op = queue.OpModify
	case event.Has(fsnotify.Remove):
		op = queue.OpDelete
	case event.Has(fsnotify.Rename):
		// fsnotify reports the old name; the new name arrives as a create
		op = queue.OpMove
	default:
		return Event{}, false
	}

	if op == queue.OpCreate || op == queue.OpModify {
		info, err := os.Stat(event.Name)
		if err != nil {
			// vanished between notification and stat
			return Event{}, false
		}
		if info.IsDir() {
			if op == queue.OpCreate && w.opts.Recursive {
				if err := w.addRoot(event.Name); err != nil {
					w.opts.Logger.Printf("Failed to watch new directory: %v", err)
				}
			}
			return Event{}, false
		}
	}

	if !w.matches(filepath.Base(event.Name)) {
		return Event{}, false
	}

	return Event{
		Path: event.Name,
		Op:   op,
		Time: w.opts.Now(),
	}, true
}

func (w *Watcher) matches(name string) bool {
	if len(w.opts.Suffixes) == 0 {
		return true
	}
	for _, s := range w.opts.Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
