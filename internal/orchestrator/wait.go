package orchestrator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ryehost/rye/internal/threadstore"
)

// pollFallback is the ticker interval used when no filesystem watch event
// has arrived — covers platforms without inotify and network-mounted state
// directories (SPEC_FULL.md [LEDGER]/[REGISTRY]).
const pollFallback = 500 * time.Millisecond

// awaitTerminal blocks until threadID reaches a terminal status in the
// shared registry, watching watchDir (the embedded store's containing
// directory, holding its SQLite WAL) for writes via fsnotify and falling
// back to a ticker when no watcher is available or no events arrive
// (SPEC_FULL.md [LEDGER]/[REGISTRY]: "wait() ... implemented with fsnotify
// watching the SQLite WAL/registry-journal directory for writes, falling
// back to a 500ms time.Ticker poll"). Used by Wait for threads this process
// did not itself spawn — e.g. a continuation successor launched by another
// host process sharing the same database file.
func awaitTerminal(ctx context.Context, threads *threadstore.Store, threadID, watchDir string) (threadstore.Thread, error) {
	check := func() (threadstore.Thread, bool, error) {
		t, err := threads.Get(ctx, threadID)
		if err != nil {
			return threadstore.Thread{}, false, err
		}
		return t, isThreadTerminal(t.Status), nil
	}

	if t, done, err := check(); err != nil || done {
		return t, err
	}

	var events <-chan fsnotify.Event
	if watchDir != "" {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(filepath.Clean(watchDir)); err == nil {
				events = watcher.Events
			}
		}
	}

	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return threadstore.Thread{}, ctx.Err()
		case <-events:
			if t, done, err := check(); err != nil || done {
				return t, err
			}
		case <-ticker.C:
			if t, done, err := check(); err != nil || done {
				return t, err
			}
		}
	}
}

func isThreadTerminal(s threadstore.Status) bool {
	switch s {
	case threadstore.StatusCompleted, threadstore.StatusError, threadstore.StatusCancelled, threadstore.StatusContinued:
		return true
	default:
		return false
	}
}
