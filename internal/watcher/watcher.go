// Package watcher turns file system changes in a folder into document
// uploads.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Op int

const (
	Created Op = iota
	Modified
	Deleted
)

func (o Op) String() string {
	switch o {
	case Created:
		return "created"
	case Modified:
		return "modified"
	default:
		return "deleted"
	}
}

type Event struct {
	Path string
	Op   Op
}

var DefaultExtensions = []string{".pdf", ".txt", ".md", ".docx"}

// Watcher reports changes to files with a watched extension. Bursts of
// events for one path (editors write in several steps) are coalesced into a
// single event once the path has been quiet for the debounce period.
type Watcher struct {
	fs         *fsnotify.Watcher
	extensions []string
	debounce   time.Duration
	logger     *slog.Logger
}

func New(extensions []string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{fs: fw, extensions: extensions, debounce: debounce, logger: logger}, nil
}

// Watch starts monitoring dir. The channel closes when ctx is done or the
// watcher is stopped.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	if err := w.fs.Add(dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	out := make(chan Event, 100)
	go w.loop(ctx, out)
	return out, nil
}

func (w *Watcher) loop(ctx context.Context, out chan<- Event) {
	defer close(out)

	type pending struct {
		op   Op
		last time.Time
	}
	queued := make(map[string]pending)
	tick := time.NewTicker(w.debounce / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.Matches(ev.Name) {
				continue
			}
			var op Op
			switch {
			case ev.Has(fsnotify.Create):
				op = Created
			case ev.Has(fsnotify.Write):
				op = Modified
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				op = Deleted
			default:
				continue
			}
			// A create followed by writes is still a create.
			if prev, ok := queued[ev.Name]; ok && prev.op == Created && op == Modified {
				op = Created
			}
			queued[ev.Name] = pending{op: op, last: time.Now()}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)

		case now := <-tick.C:
			var ready []string
			for path, p := range queued {
				if now.Sub(p.last) >= w.debounce {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				ev := Event{Path: path, Op: queued[path].op}
				delete(queued, path)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (w *Watcher) Stop() error {
	return w.fs.Close()
}

// Matches reports whether path has a watched extension and is not a hidden
// or editor temp file.
func (w *Watcher) Matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Existing lists matching files already in dir, sorted by name.
func (w *Watcher) Existing(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if w.Matches(path) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}
