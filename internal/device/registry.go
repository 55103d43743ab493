package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the canonical, identity-deduplicated list of known lights.
//
// It starts from the persisted list (Load), folds in discovery results
// (Refresh, Observe) using its MergePolicy and writes the result back
// through its Store (Persist).
//
// All public methods are thread-safe. Returned records are copies.
type Registry struct {
	store  Store
	policy MergePolicy
	logger Logger

	mu      sync.RWMutex
	records []Record // sorted by ID, unique
}

// NewRegistry creates an empty registry backed by store.
func NewRegistry(store Store, policy MergePolicy) *Registry {
	return &Registry{
		store:  store,
		policy: policy,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Policy returns the merge policy in use.
func (r *Registry) Policy() MergePolicy {
	return r.policy
}

// Load replaces the in-memory list with the stored one. Duplicate
// identities in storage collapse to their first occurrence.
func (r *Registry) Load(ctx context.Context) error {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading lights: %w", err)
	}
	merged := Merge(stored, nil, PreferPersisted)

	r.mu.Lock()
	r.records = merged
	r.mu.Unlock()

	r.logger.Info("light list loaded", "count", len(merged))
	return nil
}

// Refresh merges discovered records into the list, treating the current
// list as the persisted side. It returns the merged list.
func (r *Registry) Refresh(discovered []Record) []Record {
	r.mu.Lock()
	r.records = Merge(r.records, discovered, r.policy)
	out := cloneRecords(r.records)
	r.mu.Unlock()

	r.logger.Debug("light list refreshed", "discovered", len(discovered), "count", len(out))
	return out
}

// Observe folds one discovered record into the list.
func (r *Registry) Observe(rec Record) {
	r.Refresh([]Record{rec})
}

// List returns all records sorted by identity.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneRecords(r.records)
}

// Count returns the number of known lights.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// ByID returns the record for id or ErrDeviceNotFound.
func (r *Registry) ByID(id Identity) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i, ok := r.index(id); ok {
		return r.records[i], nil
	}
	return Record{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// ByName returns the first record named name or ErrDeviceNotFound.
func (r *Registry) ByName(name string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rec, ok := GetDevice(name, r.records); ok {
		return rec, nil
	}
	return Record{}, fmt.Errorf("%w: name %q", ErrDeviceNotFound, name)
}

// UpdateName records a display name reported by the light.
func (r *Registry) UpdateName(id Identity, name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLength)
	}
	return r.update(id, func(rec *Record) { rec.Name = name })
}

// UpdateState records the latest state snapshot of a light.
func (r *Registry) UpdateState(id Identity, state LightState) error {
	return r.update(id, func(rec *Record) { rec.State = state })
}

func (r *Registry) update(id Identity, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	fn(&r.records[i])
	return nil
}

// Persist merges the current list with whatever the store holds now and
// saves the result, so lights that were stored but not seen this run are
// kept.
func (r *Registry) Persist(ctx context.Context) error {
	stored, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading lights: %w", err)
	}

	r.mu.RLock()
	merged := Merge(stored, r.records, r.policy)
	r.mu.RUnlock()

	if err := r.store.Save(ctx, merged); err != nil {
		return fmt.Errorf("saving lights: %w", err)
	}
	r.logger.Info("light list saved", "count", len(merged))
	return nil
}

// index must be called with mu held.
func (r *Registry) index(id Identity) (int, bool) {
	i := sort.Search(len(r.records), func(i int) bool { return r.records[i].ID >= id })
	return i, i < len(r.records) && r.records[i].ID == id
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return []Record{}
	}
	out := make([]Record, len(in))
	copy(out, in)
	return out
}
