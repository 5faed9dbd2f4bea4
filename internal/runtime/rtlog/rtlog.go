// Package rtlog holds the runtime's process-wide structured logger.
package rtlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Logger returns the runtime's logger instance.
// It uses a no-op logger until SetLogger is called.
func Logger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// SetLogger installs l as the runtime logger. Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
	mu.Unlock()
}
