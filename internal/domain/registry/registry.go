package registry

import (
	"fmt"
	"sync"
)

// Entry is the last-known record of one remote engine object.
type Entry struct {
	Handle     string                 `json:"handle"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// Registry tracks the remote objects owned by one session, keyed by the
// engine-assigned handle. A handle present here means the object was created
// on the engine and not yet destroyed.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register inserts a new entry. Handles originate from the engine and are
// unique per session, so a duplicate is a programming error.
func (r *Registry) Register(handle, objType string, properties map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[handle]; exists {
		return fmt.Errorf("registry: handle %q already registered", handle)
	}
	r.entries[handle] = Entry{
		Handle:     handle,
		Type:       objType,
		Properties: copyProperties(properties),
	}
	return nil
}

// Unregister removes an entry, reporting whether it was present. Unknown
// handles are not an error; deletions race with GC.
func (r *Registry) Unregister(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[handle]; !ok {
		return false
	}
	delete(r.entries, handle)
	return true
}

// Update replaces an entry's properties wholesale. An update racing a delete
// is silently ignored.
func (r *Registry) Update(handle string, properties map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[handle]
	if !ok {
		return
	}
	entry.Properties = copyProperties(properties)
	r.entries[handle] = entry
}

// Get returns a copy of the entry for handle.
func (r *Registry) Get(handle string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[handle]
	if !ok {
		return Entry{}, false
	}
	entry.Properties = copyProperties(entry.Properties)
	return entry, true
}

// Has reports whether handle is registered.
func (r *Registry) Has(handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[handle]
	return ok
}

// Len returns the number of registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Handles returns the registered handles in unspecified order.
func (r *Registry) Handles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]string, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	return handles
}

// Snapshot exports the full table as a copy safe to serialize.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		entry.Properties = copyProperties(entry.Properties)
		entries = append(entries, entry)
	}
	return entries
}

// Restore replaces the entire table with the snapshot. It never merges.
func (r *Registry) Restore(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Entry, len(entries))
	for _, entry := range entries {
		entry.Properties = copyProperties(entry.Properties)
		r.entries[entry.Handle] = entry
	}
}

// copyProperties makes a one-level copy; property payloads are replaced
// wholesale on update, never deep-merged.
func copyProperties(properties map[string]interface{}) map[string]interface{} {
	if properties == nil {
		return nil
	}
	out := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		out[k] = v
	}
	return out
}
