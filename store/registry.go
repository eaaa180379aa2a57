package store

import (
	"fmt"
	"sync"
)

// Registry holds the models of a Store by name and by table.
type Registry struct {
	mu      sync.RWMutex
	models  []*Model
	byName  map[string]*Model
	byTable map[string]*Model
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Model),
		byTable: make(map[string]*Model),
	}
}

// Register adds a model. Names and tables must be unique.
func (r *Registry) Register(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[m.name]; ok {
		return fmt.Errorf("%w: %s", ErrModelExists, m.name)
	}
	if other, ok := r.byTable[m.table]; ok {
		return fmt.Errorf("%w: table %s is used by %s", ErrModelExists, m.table, other.name)
	}
	r.models = append(r.models, m)
	r.byName[m.name] = m
	r.byTable[m.table] = m
	return nil
}

// Get returns the model registered under name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// ForTable returns the model stored in table.
func (r *Registry) ForTable(table string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byTable[table]
	return m, ok
}

// Models returns all registered models in registration order.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Model(nil), r.models...)
}
