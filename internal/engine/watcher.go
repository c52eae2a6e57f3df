package engine

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// StopWatcher watches a run's control directory for a "stop" file and
// fires a cancellation signal when one appears. Dropping the file is the
// out-of-band way to wind a run down: admission stops, in-flight batches
// drain, and the checkpoint log stays consistent.
type StopWatcher struct {
	dir string

	mu      sync.RWMutex
	stopped bool

	watcher *fsnotify.Watcher
	signal  chan struct{}
	done    chan struct{}
}

// NewStopWatcher watches dir for a stop file, creating dir if needed.
// If the filesystem watcher cannot be created the returned StopWatcher
// never fires, and the run relies on interrupt handling alone.
func NewStopWatcher(dir string) (*StopWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	sw := &StopWatcher{
		dir:    dir,
		signal: make(chan struct{}),
		done:   make(chan struct{}),
	}

	// A stop file left behind by a previous run counts immediately.
	if _, err := os.Stat(filepath.Join(dir, "stop")); err == nil {
		sw.stopped = true
		close(sw.signal)
		return sw, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return sw, nil
	}
	sw.watcher = watcher

	go sw.watch()
	return sw, nil
}

// watch monitors the control directory for the stop file.
func (sw *StopWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "stop" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			sw.mu.Lock()
			if !sw.stopped {
				sw.stopped = true
				close(sw.signal)
			}
			sw.mu.Unlock()
		case <-sw.watcher.Errors:
			// Keep watching.
		}
	}
}

// C returns a channel closed when the stop file appears.
func (sw *StopWatcher) C() <-chan struct{} {
	return sw.signal
}

// Stopped reports whether the stop signal has fired.
func (sw *StopWatcher) Stopped() bool {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.stopped
}

// Close stops watching. It does not remove the stop file.
func (sw *StopWatcher) Close() error {
	close(sw.done)
	if sw.watcher != nil {
		return sw.watcher.Close()
	}
	return nil
}
