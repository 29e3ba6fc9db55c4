package anchor

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// Watcher feeds VerifyChangedFiles with detectedBy=git_hook whenever a
// watched file changes, grounded on the teacher's MangleWatcher
// (internal/core/mangle_watcher.go) debounce-and-dispatch loop.
type Watcher struct {
	mu          sync.Mutex
	fsWatcher   *fsnotify.Watcher
	service     *Service
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher builds a Watcher that dispatches changed-file verification
// through service. Call Add for each directory to watch.
func NewWatcher(service *Service) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher:   fsWatcher,
		service:     service,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Add registers dir with the underlying fsnotify watcher.
func (w *Watcher) Add(dir string) error {
	return w.fsWatcher.Add(dir)
}

// Start begins the event loop in a goroutine; non-blocking.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop halts the event loop and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	_ = w.fsWatcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.mu.Lock()
			w.debounceMap[event.Name] = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.AnchorError("watcher error: %v", err)
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

func (w *Watcher) flushDebounced(ctx context.Context) {
	w.mu.Lock()
	var settled []string
	now := time.Now()
	for path, seenAt := range w.debounceMap {
		if now.Sub(seenAt) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	opts := DefaultSwarmOptions()
	opts.DetectedBy = DetectedGitHook
	if _, err := w.service.VerifyChangedFiles(ctx, settled, opts); err != nil {
		logging.AnchorError("verifyChangedFiles for %d changed files failed: %v", len(settled), err)
	}
}
