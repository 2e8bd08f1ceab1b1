package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Init arma el logger global. Se llama una vez desde cmd/authcore; las
// llamadas siguientes no lo reemplazan.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = build(cfg)
	}
}

// L retorna el logger global (dev/info si nadie llamó Init).
func L() *zap.Logger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = build(Config{Env: "dev", Level: "info"})
	}
	return global
}

// Sync flushea el logger global, si existe.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
