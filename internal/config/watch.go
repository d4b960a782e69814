package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signalsfoundry/terrainview/internal/logging"
)

// DefaultReloadDebounce coalesces the bursts of events editors produce on
// save.
const DefaultReloadDebounce = 250 * time.Millisecond

// TableWatcher reloads scenario tables when their file changes.
type TableWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(*ScenarioTables)
	log      logging.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
}

// WatchScenarioTables watches path and calls onChange with the freshly
// decoded tables after every change. A file that fails to decode is logged
// and skipped, so the previous tables stay in effect.
func WatchScenarioTables(path string, debounce time.Duration, log logging.Logger, onChange func(*ScenarioTables)) (*TableWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors and config management replace the file
	// by rename, which drops a watch on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	tw := &TableWatcher{
		watcher:  w,
		path:     abs,
		debounce: debounce,
		onChange: onChange,
		log:      logging.Component(log, "config"),
		done:     make(chan struct{}),
	}
	go tw.run()
	return tw, nil
}

func (tw *TableWatcher) run() {
	defer close(tw.done)
	ctx := context.Background()
	for {
		select {
		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != tw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				tw.schedule()
			}
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			tw.log.Warn(ctx, "scenario table watcher error", logging.Err(err))
		}
	}
}

func (tw *TableWatcher) schedule() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.closed {
		return
	}
	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.timer = time.AfterFunc(tw.debounce, tw.reload)
}

func (tw *TableWatcher) reload() {
	ctx := context.Background()
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return
	}

	tables, err := LoadScenarioTables(tw.path)
	if err != nil {
		tw.log.Warn(ctx, "scenario tables not reloaded", logging.String("path", tw.path), logging.Err(err))
		return
	}
	tw.log.Info(ctx, "scenario tables reloaded",
		logging.String("path", tw.path),
		logging.Int("simulations", len(tables.Keys)),
		logging.Int("urls", len(tables.URLs)))
	if tw.onChange != nil {
		tw.onChange(tables)
	}
}

// Close stops watching. Pending reloads are dropped.
func (tw *TableWatcher) Close() error {
	tw.mu.Lock()
	if tw.closed {
		tw.mu.Unlock()
		return nil
	}
	tw.closed = true
	if tw.timer != nil {
		tw.timer.Stop()
	}
	tw.mu.Unlock()

	err := tw.watcher.Close()
	<-tw.done
	return err
}
