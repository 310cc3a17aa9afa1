package adapter

import (
	"fmt"
	"sort"

	"dbvault/internal/errors"
)

// Registry holds the storage and database implementations known to this
// process. Built once at startup, immutable afterwards, and handed to
// the orchestrator by its constructor so lookups never race registration.
type Registry struct {
	storage  map[string]Storage
	database map[string]Database
}

// NewRegistry builds a registry from implementation maps keyed by
// adapter id. The maps are copied; later mutation of the arguments does
// not leak into the registry.
func NewRegistry(storage map[string]Storage, database map[string]Database) *Registry {
	r := &Registry{
		storage:  make(map[string]Storage, len(storage)),
		database: make(map[string]Database, len(database)),
	}
	for id, impl := range storage {
		r.storage[id] = impl
	}
	for id, impl := range database {
		r.database[id] = impl
	}
	return r
}

// Storage returns the storage implementation for id
func (r *Registry) Storage(id string) (Storage, error) {
	impl, ok := r.storage[id]
	if !ok {
		return nil, errors.NewConfigError(errors.ErrCodeUnknownAdapter,
			fmt.Sprintf("Unknown storage adapter: %q", id),
			fmt.Sprintf("Known storage adapters: %v", r.StorageIDs()))
	}
	return impl, nil
}

// Database returns the database implementation for id
func (r *Registry) Database(id string) (Database, error) {
	impl, ok := r.database[id]
	if !ok {
		return nil, errors.NewConfigError(errors.ErrCodeUnknownAdapter,
			fmt.Sprintf("Unknown database adapter: %q", id),
			fmt.Sprintf("Known database adapters: %v", r.DatabaseIDs()))
	}
	return impl, nil
}

// StorageIDs returns the registered storage adapter ids, sorted
func (r *Registry) StorageIDs() []string {
	ids := make([]string, 0, len(r.storage))
	for id := range r.storage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DatabaseIDs returns the registered database adapter ids, sorted
func (r *Registry) DatabaseIDs() []string {
	ids := make([]string, 0, len(r.database))
	for id := range r.database {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
