// Package watch monitors a session folder and reports whether the cached
// reduction still matches the files on disk. Acquisitions often trickle in
// over hours; the watcher is how an operator learns the mean frames they
// corrected against no longer reflect the folder.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"stackalign/internal/cache"
	"stackalign/internal/session"
)

// defaultDebounce is how long a folder must stay quiet before a burst of
// changes is judged. Instruments write session files in many small appends;
// judging each one would spam notices.
const defaultDebounce = 500 * time.Millisecond

// Notice is the watcher's verdict after a burst of session file changes
// settles down.
type Notice struct {
	Folder  string
	Changed []string
	Stale   bool
	Reason  string
	Time    time.Time
}

// Watcher follows one session folder for changes to its session files.
type Watcher struct {
	fs       *fsnotify.Watcher
	folder   string
	format   session.Format
	debounce time.Duration
	log      *slog.Logger

	// Notices delivers one verdict per settled burst of changes. It is
	// never closed; Stop simply ends emission.
	Notices chan Notice

	done chan struct{}
}

// New prepares a watcher for folder. A zero or negative debounce picks the
// default.
func New(folder string, format session.Format, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		fs:       fw,
		folder:   folder,
		format:   format,
		debounce: debounce,
		log:      logger,
		Notices:  make(chan Notice, 16),
		done:     make(chan struct{}),
	}, nil
}

// Start registers the folder and its existing subdirectories and begins
// processing events. Directories created later are picked up as they appear.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", w.folder, err)
	}

	go w.processEvents()

	w.log.Info("watching session folder", "folder", w.folder, "format", string(w.format))
	return nil
}

// Stop ends the watch and releases the underlying filesystem watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fs.Close()
}

func (w *Watcher) processEvents() {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]struct{})

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				// New subdirectories join the watch so sessions dropped
				// into them are still seen.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fs.Add(event.Name); err != nil {
						w.log.Warn("watching new directory", "path", event.Name, "error", err)
					}
					continue
				}
			case event.Op&fsnotify.Write == fsnotify.Write:
			case event.Op&fsnotify.Remove == fsnotify.Remove:
			case event.Op&fsnotify.Rename == fsnotify.Rename:
			case event.Op&fsnotify.Chmod == fsnotify.Chmod:
				continue // Permission changes never invalidate a reduction.
			default:
				continue
			}

			if !w.relevant(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			sort.Strings(changed)
			pending = make(map[string]struct{})

			notice := w.check(changed)
			select {
			case w.Notices <- notice:
			default:
				w.log.Warn("notice buffer full, dropping", "folder", w.folder)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("filesystem watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// relevant reports whether a change to path can affect the cached
// reduction. Products and cache files the pipeline writes itself are
// excluded so an export or a cache refresh never looks like new data.
func (w *Watcher) relevant(path string) bool {
	switch filepath.Base(path) {
	case session.ExportedStackName, cache.ReductionName, cache.ParamsName:
		return false
	}
	if w.format.Matches(path) {
		return true
	}
	// Sidecar geometry edits invalidate packed reductions too.
	return w.format == session.FormatSBX && strings.EqualFold(filepath.Ext(path), ".json")
}

// check compares the cached reduction's fingerprint against the folder as
// it stands now.
func (w *Watcher) check(changed []string) Notice {
	n := Notice{
		Folder:  w.folder,
		Changed: changed,
		Time:    time.Now(),
	}

	red, err := cache.LoadReduction(w.folder)
	if errors.Is(err, fs.ErrNotExist) {
		n.Reason = "no cached reduction"
		return n
	}
	if err != nil {
		n.Stale = true
		n.Reason = "cached reduction is unreadable"
		return n
	}

	fp, err := cache.Snapshot(w.folder, w.format)
	if err != nil {
		n.Stale = true
		n.Reason = fmt.Sprintf("cannot fingerprint folder: %v", err)
		return n
	}
	if fp.Equal(red.Fingerprint) {
		n.Reason = "cached reduction still matches"
		return n
	}
	n.Stale = true
	n.Reason = "session files changed since the reduction was cached"
	return n
}
