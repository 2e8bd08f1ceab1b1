// Package store provee el registry de adaptadores de persistencia.
//
// Cada adapter (memory, sqlite, postgres) se registra en init() y se abre
// por nombre con Open. El resto del core solo conoce repository.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dropDatabas3/authcore/internal/domain/repository"
)

// Adapter representa un backend capaz de abrir un repository.Store.
type Adapter interface {
	// Name retorna el nombre del adapter (ej: "postgres", "sqlite", "memory").
	Name() string

	// Open establece la conexión con el almacenamiento.
	Open(ctx context.Context, cfg AdapterConfig) (repository.Store, error)
}

// Migratable interfaz opcional para stores que manejan su propio esquema.
type Migratable interface {
	Migrate(ctx context.Context) (*MigrationResult, error)
}

// AdapterConfig configuración para conectar a un almacenamiento.
type AdapterConfig struct {
	// DSN connection string (vacío para memory)
	DSN string

	// Pool settings (para DBs)
	MaxOpenConns int
	MaxIdleConns int
}

// ─── Registry Global ───

var (
	registryMu sync.RWMutex
	adapters   = make(map[string]Adapter)
)

// RegisterAdapter registra un adapter en el registry global.
// Llamar en init() de cada adapter.
func RegisterAdapter(a Adapter) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := a.Name()
	if _, exists := adapters[name]; exists {
		panic(fmt.Sprintf("store: adapter %q already registered", name))
	}
	adapters[name] = a
}

// GetAdapter obtiene un adapter por nombre.
func GetAdapter(name string) (Adapter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := adapters[name]
	return a, ok
}

// ListAdapters retorna los nombres de adapters registrados, ordenados.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open abre un Store usando el adapter registrado con ese nombre.
func Open(ctx context.Context, driver string, cfg AdapterConfig) (repository.Store, error) {
	a, ok := GetAdapter(driver)
	if !ok {
		return nil, fmt.Errorf("store: unknown adapter %q (registered: %v)", driver, ListAdapters())
	}
	s, err := a.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	return s, nil
}

// Migrate aplica migraciones si el store las soporta. Para stores sin
// esquema (memory) es un no-op.
func Migrate(ctx context.Context, s repository.Store) (*MigrationResult, error) {
	m, ok := s.(Migratable)
	if !ok {
		return &MigrationResult{}, nil
	}
	return m.Migrate(ctx)
}
