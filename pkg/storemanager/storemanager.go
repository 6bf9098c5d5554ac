// Package storemanager is a name-keyed registry of store.Store instances,
// generalizing the teacher's per-share ContentStore registry
// (`pkg/content/service.go`'s `stores map[string]ContentStore`, looked up
// via RegisterStoreForShare/GetStoreForShare) to the CAS/AC store graph:
// a deployment's config names each configured store ("CAS", "AC",
// "worker-fast-cas", ...) and other components (RefStore, the scheduler,
// the worker) resolve each other by name rather than holding a direct
// reference, so config can be reloaded and stores swapped without
// restarting every dependent component.
package storemanager

import (
	"sync"

	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// Manager is a concurrency-safe name -> store.Store registry.
type Manager struct {
	mu     sync.RWMutex
	stores map[string]store.Store
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{stores: make(map[string]store.Store)}
}

// Register adds or replaces the store registered under name.
func (m *Manager) Register(name string, s store.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[name] = s
}

// Get resolves name to its registered store.Store.
func (m *Manager) Get(name string) (store.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[name]
	if !ok {
		return nil, rpcerr.NotFound("storemanager: no store registered as %q", name)
	}
	return s, nil
}

// Names returns every registered store name, in no particular order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	return names
}
