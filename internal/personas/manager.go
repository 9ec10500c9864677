package personas

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Manager wraps a Store with the operational concerns a long-running
// process needs around it: hot-reload when the persona file is edited
// externally, periodic metrics reporting, and graceful shutdown.
type Manager struct {
	store  *Store
	path   string
	logger *zap.Logger

	watcher   *fsnotify.Watcher
	watcherMu sync.RWMutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
	closeMu sync.RWMutex
}

// NewManager opens the persona store described by cfg, seeds it from
// cfg.SeedDir if it's empty, and starts its hot-reload and
// metrics-reporting background tasks.
func NewManager(cfg *StoreConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := NewStore(cfg.Path, cfg.CacheTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("open persona store: %w", err)
	}

	if cfg.SeedDir != "" && store.Size() == 0 {
		n, err := SeedStore(store, cfg.SeedDir)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("seed persona store: %w", err)
		}
		logger.Info("seeded persona store", zap.Int("count", n), zap.String("seed_dir", cfg.SeedDir))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:  store,
		path:   cfg.Path,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := m.initFileWatcher(); err != nil {
		logger.Warn("failed to initialize persona file watcher", zap.Error(err))
	}
	m.startBackgroundTasks()

	logger.Info("persona manager ready",
		zap.String("path", cfg.Path),
		zap.Int("persona_count", store.Size()))

	return m, nil
}

func (m *Manager) initFileWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the containing directory rather than the file itself: editors
	// and operator scripts often replace the file atomically (write temp +
	// rename), which orphans a watch held directly on the inode.
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch persona directory %s: %w", dir, err)
	}

	m.watcherMu.Lock()
	m.watcher = watcher
	m.watcherMu.Unlock()
	return nil
}

func (m *Manager) startBackgroundTasks() {
	if m.watcher != nil {
		m.wg.Add(1)
		go m.watchFile()
	}
	m.wg.Add(1)
	go m.reportMetrics()
}

func (m *Manager) watchFile() {
	defer m.wg.Done()

	m.watcherMu.RLock()
	watcher := m.watcher
	m.watcherMu.RUnlock()
	if watcher == nil {
		return
	}

	target := filepath.Base(m.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			time.Sleep(100 * time.Millisecond) // let the writer finish
			if err := m.store.Reload(); err != nil {
				m.logger.Error("failed to reload persona store", zap.Error(err))
			} else {
				m.logger.Info("reloaded persona store from disk",
					zap.Int("persona_count", m.store.Size()))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("persona file watcher error", zap.Error(err))

		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) reportMetrics() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.store.metrics != nil {
				m.store.metrics.CacheSize.Set(float64(m.store.cache.Size()))
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// Match delegates to the underlying Store.
func (m *Manager) Match(req Requirements) (*Persona, float64, bool) {
	return m.store.Match(req)
}

// Insert delegates to the underlying Store.
func (m *Manager) Insert(p Persona) (string, error) {
	return m.store.Insert(p)
}

// RecordUse delegates to the underlying Store.
func (m *Manager) RecordUse(id string, successScore float64) error {
	return m.store.RecordUse(id, successScore)
}

// List delegates to the underlying Store.
func (m *Manager) List(filter Filter) []*Persona {
	return m.store.List(filter)
}

// Get delegates to the underlying Store.
func (m *Manager) Get(id string) (*Persona, bool) {
	return m.store.Get(id)
}

// Delete delegates to the underlying Store.
func (m *Manager) Delete(id string) error {
	return m.store.Delete(id)
}

// Close stops background tasks and closes the underlying store.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	m.closeMu.Unlock()

	m.logger.Info("shutting down persona manager")
	m.cancel()

	m.watcherMu.Lock()
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
	m.watcherMu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		m.logger.Warn("persona manager shutdown timeout reached")
	}

	return m.store.Close()
}
