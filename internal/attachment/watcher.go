package attachment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/authz-engine/exprauth/internal/metrics"
)

// ReloadedEvent reports the outcome of one attachment reload.
type ReloadedEvent struct {
	Timestamp time.Time
	Methods   int
	Requests  int
	Error     error
}

// Watcher monitors an attachment directory and swaps a fresh registry
// snapshot into the store on change. A failed reload keeps the previous
// snapshot live.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	loader  *Loader
	store   *Store
	logger  *zap.Logger

	// Metrics optionally records reload outcomes. Set before Watch.
	Metrics *metrics.Metrics

	debounceTimeout time.Duration
	debounceTimer   *time.Timer
	eventChan       chan ReloadedEvent
	stopChan        chan struct{}
	mu              sync.Mutex
	watching        bool
}

// NewWatcher creates a watcher over an attachment directory.
func NewWatcher(path string, store *Store, loader *Loader, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher:         fsw,
		path:            path,
		loader:          loader,
		store:           store,
		logger:          logger,
		debounceTimeout: 500 * time.Millisecond,
		eventChan:       make(chan ReloadedEvent, 10),
		stopChan:        make(chan struct{}),
	}, nil
}

// Watch starts watching until ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.path); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	w.logger.Info("watching attachment directory",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounceTimeout),
	)
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		w.logger.Info("attachment watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			ext := filepath.Ext(event.Name)
			if ext == ".yaml" || ext == ".yml" {
				w.scheduleReload(event)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Debug("attachment file change",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTimeout, w.reload)
}

func (w *Watcher) reload() {
	registry, err := w.loader.LoadDirectory(w.path)
	if err != nil {
		w.logger.Error("attachment reload failed, keeping previous snapshot",
			zap.String("path", w.path),
			zap.Error(err),
		)
		w.Metrics.ObserveReload(false)
		w.emit(ReloadedEvent{Timestamp: time.Now(), Error: err})
		return
	}

	w.store.Swap(registry)
	methods, requests := registry.Len()
	w.logger.Info("attachments reloaded",
		zap.Int("methods", methods),
		zap.Int("requests", requests),
	)
	w.Metrics.ObserveReload(true)
	w.emit(ReloadedEvent{Timestamp: time.Now(), Methods: methods, Requests: requests})
}

func (w *Watcher) emit(event ReloadedEvent) {
	select {
	case w.eventChan <- event:
	default:
	}
}

// EventChan exposes reload outcomes for tests and operators.
func (w *Watcher) EventChan() <-chan ReloadedEvent {
	return w.eventChan
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return nil
	}
	// Cleared here, not in the loop goroutine, so a second Stop cannot
	// race past the check and close stopChan twice.
	w.watching = false
	close(w.stopChan)
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	return w.watcher.Close()
}
