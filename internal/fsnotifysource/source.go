// Package fsnotifysource is the default notification source: it watches
// every configured base path recursively with fsnotify and delivers
// batches of changed paths to a caller-supplied handler, coalescing
// bursts of raw filesystem events over a short window so a handler
// invoked per keystroke of a large copy doesn't thrash the indexer.
package fsnotifysource

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultBatchWindow bounds how long raw events are coalesced before the
// accumulated batch is delivered to the handler.
const DefaultBatchWindow = 250 * time.Millisecond

// Source watches a set of root directories and reports changed paths.
type Source struct {
	watcher     *fsnotify.Watcher
	roots       []string
	batchWindow time.Duration
}

// New creates a Source watching every directory beneath roots.
func New(roots []string, batchWindow time.Duration) (*Source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if batchWindow <= 0 {
		batchWindow = DefaultBatchWindow
	}
	s := &Source{watcher: w, roots: roots, batchWindow: batchWindow}
	for _, root := range roots {
		if err := s.watchRecursive(root); err != nil {
			log.Printf("fsnotifysource: could not watch %s: %v", root, err)
		}
	}
	return s, nil
}

// Start runs the dispatch loop in a background goroutine, delivering
// coalesced batches of changed paths to handle until Stop is called. It
// returns immediately.
func (s *Source) Start(handle func(paths []string)) {
	go s.run(handle)
}

// Stop closes the underlying watcher, terminating the dispatch goroutine.
func (s *Source) Stop() error {
	return s.watcher.Close()
}

func (s *Source) run(handle func(paths []string)) {
	var pending []string
	seen := make(map[string]bool)
	timer := time.NewTimer(s.batchWindow)
	if !timer.Stop() {
		<-timer.C
	}
	timerRunning := false

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		seen = make(map[string]bool)
		handle(batch)
	}

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				flush()
				return
			}
			s.handleEvent(event)
			if !seen[event.Name] {
				seen[event.Name] = true
				pending = append(pending, event.Name)
			}
			if !timerRunning {
				timer.Reset(s.batchWindow)
				timerRunning = true
			}

		case <-timer.C:
			timerRunning = false
			flush()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				flush()
				return
			}
			log.Printf("fsnotifysource: %v", err)
		}
	}
}

// watchRecursive adds a watch for dir and every subdirectory beneath it,
// stopping (without error) at the kernel's inotify watch limit.
func (s *Source) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Printf("fsnotifysource: skipping %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := s.watcher.Add(path); err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				log.Printf("fsnotifysource: inotify watch limit reached (stopped at %s)", path)
				return filepath.SkipAll
			}
			log.Printf("fsnotifysource: could not add watch for %s: %v", path, err)
		}
		return nil
	})
}

// handleEvent watches newly created directories immediately so their
// own contents are covered without waiting for the next full refresh.
func (s *Source) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}
	if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
		if err := s.watchRecursive(event.Name); err != nil {
			log.Printf("fsnotifysource: could not watch new dir %s: %v", event.Name, err)
		}
	}
}
