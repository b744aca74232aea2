// Package logging holds the process-wide zap logger used when a VM is not configured with its own. This is in an
// independent package to avoid dependency cycles.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// Logger returns the default logger. It is a no-op logger unless replaced with SetLogger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the default logger. A nil logger restores the no-op one.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// Named returns the default logger for a component, ex. "store" or "wasi".
func Named(component string) *zap.Logger {
	return Logger().Named(component)
}
