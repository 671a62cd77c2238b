// Package poolset holds the registry of poolsets — user-visible groups
// of pools co-managed for a single application (spec.md §3, §4.3). The
// Registry follows the teacher's Repository shape (a mutex-guarded map
// behind public methods that take the lock themselves); the core
// task is the only real writer per spec.md §5, so the lock mainly
// guards the command-handler and notification paths that enqueue work
// onto it.
package poolset

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/jcsp/pgautoscale/internal/log"
)

// ENCCompatVersion is the highest persisted-state compat_version this
// registry can read (spec.md §4.3, §6.4).
const ENCCompatVersion = 1

// Policy is a poolset's autoscaling stance.
type Policy string

const (
	PolicySilent    Policy = "silent"
	PolicyWarn      Policy = "warn"
	PolicyAutoscale Policy = "autoscale"
)

// Properties is PoolProperties from spec.md §3: an advisory sizing
// hint for one pool. Exactly one of TargetSize/TargetRatio may be set.
type Properties struct {
	TargetSize  *int64   `json:"target_size,omitempty"`
	TargetRatio *float64 `json:"target_ratio,omitempty"`
}

// PoolSet is one named group of pools.
type PoolSet struct {
	Name               string                `json:"name"`
	Policy             Policy                `json:"policy"`
	Application        string                `json:"application"`
	PoolProperties     map[int]Properties    `json:"pool_properties"`
	// Creating suppresses auto-discovery while a `poolset create`
	// command is still assembling this set's pools.
	Creating bool `json:"-"`
}

// HasPool reports whether pool_id belongs to this set.
func (ps *PoolSet) HasPool(poolID int) bool {
	_, ok := ps.PoolProperties[poolID]
	return ok
}

// PoolIDs returns this set's member pool ids.
func (ps *PoolSet) PoolIDs() []int {
	ids := make([]int, 0, len(ps.PoolProperties))
	for id := range ps.PoolProperties {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// persistedPoolSet is the on-disk shape: PoolProperties keyed by
// decimal string, matching spec.md §6.4's `pool_properties:{pool_id:{...}}`.
type persistedPoolSet struct {
	Name           string                `json:"name"`
	Policy         Policy                `json:"policy"`
	Application    string                `json:"application"`
	PoolProperties map[string]Properties `json:"pool_properties"`
}

type persistedState struct {
	Version       int                `json:"version"`
	CompatVersion int                `json:"compat_version"`
	PoolSets      []persistedPoolSet `json:"poolsets"`
}

// stateStore is the persistence boundary this registry writes through;
// satisfied by manager.Manager's GetConfigJSON/SetConfigJSON.
type stateStore interface {
	GetConfigJSON(key string) ([]byte, error)
	SetConfigJSON(key string, value []byte) error
}

const stateKey = "state"

// Registry holds every known PoolSet.
type Registry struct {
	sync.RWMutex
	store    stateStore
	sets     map[string]*PoolSet
	dirty    bool
}

// NewRegistry builds an empty Registry bound to store.
func NewRegistry(store stateStore) *Registry {
	return &Registry{store: store, sets: make(map[string]*PoolSet)}
}

// Load reads the persisted state, replacing the in-memory set
// wholesale. A missing key yields an empty registry, not an error.
func (r *Registry) Load() error {
	raw, err := r.store.GetConfigJSON(stateKey)
	if err != nil {
		return errors.Wrap(err, "load poolset state")
	}
	if len(raw) == 0 {
		return nil
	}

	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return errors.Wrap(err, "unmarshal poolset state")
	}
	if state.CompatVersion > ENCCompatVersion {
		return errors.Errorf("poolset state compat_version %d exceeds supported %d", state.CompatVersion, ENCCompatVersion)
	}

	sets := make(map[string]*PoolSet, len(state.PoolSets))
	for _, p := range state.PoolSets {
		props := make(map[int]Properties, len(p.PoolProperties))
		for idStr, v := range p.PoolProperties {
			id, err := strconv.Atoi(idStr)
			if err != nil {
				continue
			}
			props[id] = v
		}
		sets[p.Name] = &PoolSet{
			Name:           p.Name,
			Policy:         p.Policy,
			Application:    p.Application,
			PoolProperties: props,
		}
	}

	r.Lock()
	r.sets = sets
	r.dirty = false
	r.Unlock()
	return nil
}

// Save persists the current state if dirty; a no-op otherwise
// (spec.md §5's "save is idempotent, runs after every notification and
// command handler").
func (r *Registry) Save() error {
	r.RLock()
	if !r.dirty {
		r.RUnlock()
		return nil
	}
	state := persistedState{Version: 1, CompatVersion: ENCCompatVersion}
	for _, ps := range r.sets {
		props := make(map[string]Properties, len(ps.PoolProperties))
		for id, v := range ps.PoolProperties {
			props[strconv.Itoa(id)] = v
		}
		state.PoolSets = append(state.PoolSets, persistedPoolSet{
			Name:           ps.Name,
			Policy:         ps.Policy,
			Application:    ps.Application,
			PoolProperties: props,
		})
	}
	r.RUnlock()

	sort.Slice(state.PoolSets, func(i, j int) bool { return state.PoolSets[i].Name < state.PoolSets[j].Name })

	raw, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "marshal poolset state")
	}
	if err := r.store.SetConfigJSON(stateKey, raw); err != nil {
		return errors.Wrap(err, "save poolset state")
	}

	r.Lock()
	r.dirty = false
	r.Unlock()
	log.Debug("poolset registry saved")
	return nil
}

// MarkDirty flags the registry for the next Save.
func (r *Registry) MarkDirty() {
	r.Lock()
	r.dirty = true
	r.Unlock()
}

// All returns every poolset, sorted by name.
func (r *Registry) All() []*PoolSet {
	r.RLock()
	defer r.RUnlock()
	out := make([]*PoolSet, 0, len(r.sets))
	for _, ps := range r.sets {
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named poolset, nil if absent.
func (r *Registry) Get(name string) *PoolSet {
	r.RLock()
	defer r.RUnlock()
	return r.sets[name]
}

// Put inserts or replaces a poolset and marks the registry dirty.
func (r *Registry) Put(ps *PoolSet) {
	r.Lock()
	r.sets[ps.Name] = ps
	r.dirty = true
	r.Unlock()
}

// Delete removes a poolset by name and marks the registry dirty.
func (r *Registry) Delete(name string) {
	r.Lock()
	if _, ok := r.sets[name]; ok {
		delete(r.sets, name)
		r.dirty = true
	}
	r.Unlock()
}

// FindByPool returns the poolset owning pool_id, nil if it belongs to
// none.
func (r *Registry) FindByPool(poolID int) *PoolSet {
	r.RLock()
	defer r.RUnlock()
	for _, ps := range r.sets {
		if ps.HasPool(poolID) {
			return ps
		}
	}
	return nil
}

// UniqueName returns candidate if no poolset currently uses it,
// otherwise candidate suffixed with the smallest integer ≥2 that makes
// it unique.
func (r *Registry) UniqueName(candidate string) string {
	r.RLock()
	defer r.RUnlock()
	if _, taken := r.sets[candidate]; !taken {
		return candidate
	}
	for i := 2; ; i++ {
		name := candidate + "_" + strconv.Itoa(i)
		if _, taken := r.sets[name]; !taken {
			return name
		}
	}
}
