package sync

import (
	"context"
	"sync"
	"time"

	"github.com/jamesaphoenix/tx-sub011/internal/logging"
)

// DefaultCoalesceWindow is the debounce window applied to afterMutation
// hooks (spec.md §4.B): task, dependency, and learning mutations coalesce
// into a single background export when they arrive within this window of
// each other.
const DefaultCoalesceWindow = 100 * time.Millisecond

// AutoSyncer debounces repeated mutation notifications into a single
// background Export call, grounded on the teacher's Debouncer
// (cmd/nerd/ui/debounce.go) but adding single-flight so a slow export
// can't overlap a second one triggered mid-run.
type AutoSyncer struct {
	exporter *Exporter
	reporter *StatusReporter
	window   time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	running bool
	pending bool
}

// NewAutoSyncer builds an AutoSyncer that exports via exporter and records
// bookkeeping via reporter, coalescing within window.
func NewAutoSyncer(exporter *Exporter, reporter *StatusReporter, window time.Duration) *AutoSyncer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &AutoSyncer{exporter: exporter, reporter: reporter, window: window}
}

// AfterMutation notifies the syncer that a task, dependency, or learning
// mutation occurred. It schedules a debounced background export; rapid
// successive calls reset the timer rather than queuing more work.
func (a *AutoSyncer) AfterMutation() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.window, a.fire)
}

func (a *AutoSyncer) fire() {
	a.mu.Lock()
	if a.running {
		a.pending = true
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	a.runExport()

	a.mu.Lock()
	again := a.pending
	a.pending = false
	a.running = false
	a.mu.Unlock()

	if again {
		a.fire()
	}
}

func (a *AutoSyncer) runExport() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := a.exporter.Export(ctx)
	if err != nil {
		logging.SyncError("auto-export failed: %v", err)
		return
	}
	if a.reporter != nil {
		if err := a.reporter.RecordExport(ctx, time.Now()); err != nil {
			logging.SyncError("auto-export bookkeeping failed: %v", err)
		}
	}
	logging.Sync("auto-export wrote %d tasks, %d deps", stats.TaskCount, stats.DepCount)
}

// Stop cancels any pending debounced export.
func (a *AutoSyncer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
