package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// PolicyManager watches a directory of OPA `.rego` policy files and
// triggers reload handlers when one changes, so a policy edit takes
// effect without restarting the process.
type PolicyManager struct {
	policyDir string
	handlers  []func() error
	watcher   *fsnotify.Watcher
	started   bool
	stopCh    chan struct{}
	logger    *zap.Logger
	mu        sync.Mutex
}

// NewConfigManager creates a PolicyManager watching policyDir.
func NewConfigManager(policyDir string, logger *zap.Logger) (*PolicyManager, error) {
	if policyDir == "" {
		return nil, fmt.Errorf("policy directory cannot be empty")
	}
	if err := os.MkdirAll(policyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create policy directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &PolicyManager{
		policyDir: policyDir,
		watcher:   watcher,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}, nil
}

// RegisterPolicyHandler registers a callback invoked whenever a .rego file
// in policyDir is created, modified, or removed.
func (cm *PolicyManager) RegisterPolicyHandler(handler func() error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.handlers = append(cm.handlers, handler)
	cm.logger.Info("policy reload handler registered")
}

// Start begins watching policyDir for .rego changes.
func (cm *PolicyManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	if err := cm.watcher.Add(cm.policyDir); err != nil {
		return fmt.Errorf("failed to watch policy directory: %w", err)
	}

	cm.mu.Lock()
	cm.started = true
	cm.mu.Unlock()

	go cm.watchLoop()
	cm.logger.Info("policy manager started", zap.String("policy_dir", cm.policyDir))
	return nil
}

// Stop halts the file watcher.
func (cm *PolicyManager) Stop() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.started {
		return nil
	}
	close(cm.stopCh)
	if err := cm.watcher.Close(); err != nil {
		cm.logger.Error("error closing policy file watcher", zap.Error(err))
	}
	cm.started = false
	cm.logger.Info("policy manager stopped")
	return nil
}

func (cm *PolicyManager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			cm.logger.Error("policy watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-cm.stopCh:
			return
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			cm.handleWatchEvent(event)
		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("policy file watcher error", zap.Error(err))
		}
	}
}

func (cm *PolicyManager) handleWatchEvent(event fsnotify.Event) {
	if filepath.Ext(event.Name) != ".rego" {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "rename"
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		action = event.Op.String()
	}

	// Debounce rapid successive writes from editors that save in two steps.
	time.Sleep(50 * time.Millisecond)

	cm.mu.Lock()
	handlers := make([]func() error, len(cm.handlers))
	copy(handlers, cm.handlers)
	cm.mu.Unlock()

	cm.logger.Info("policy file changed, triggering reload",
		zap.String("file", filepath.Base(event.Name)),
		zap.String("action", action),
		zap.Int("handlers", len(handlers)),
	)

	for _, handler := range handlers {
		if err := handler(); err != nil {
			cm.logger.Error("policy reload handler failed", zap.String("action", action), zap.Error(err))
		}
	}
}
