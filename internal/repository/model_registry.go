package repository

import (
	"sync"

	"mlass/internal/domain/models"
	domrepo "mlass/internal/domain/repository"
)

// MemoryModelRegistry keeps the current model of every instance in memory.
type MemoryModelRegistry struct {
	mu      sync.RWMutex
	models  map[string]*models.Model
	writers sync.Map // instanceID -> *sync.Mutex
}

func NewMemoryModelRegistry() domrepo.ModelRegistry {
	return &MemoryModelRegistry{models: make(map[string]*models.Model)}
}

func (r *MemoryModelRegistry) Get(instanceID string) (*models.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[instanceID]
	return m, ok
}

// Put publishes m as the current model of m.InstanceID.
func (r *MemoryModelRegistry) Put(m *models.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.InstanceID] = m
}

func (r *MemoryModelRegistry) PutIfAbsent(m *models.Model) *models.Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.models[m.InstanceID]; ok {
		return cur
	}
	r.models[m.InstanceID] = m
	return m
}

// LockWriter blocks until the caller is the only writer for instanceID.
func (r *MemoryModelRegistry) LockWriter(instanceID string) func() {
	v, _ := r.writers.LoadOrStore(instanceID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *MemoryModelRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}
