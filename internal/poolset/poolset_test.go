package poolset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	values map[string][]byte
}

func newMemStore() *memStore { return &memStore{values: make(map[string][]byte)} }

func (m *memStore) GetConfigJSON(key string) ([]byte, error) { return m.values[key], nil }
func (m *memStore) SetConfigJSON(key string, value []byte) error {
	m.values[key] = value
	return nil
}

func TestRegistryPutGetDelete(t *testing.T) {
	r := NewRegistry(newMemStore())

	ps := &PoolSet{Name: "rbd", Policy: PolicyWarn, PoolProperties: map[int]Properties{1: {}}}
	r.Put(ps)

	got := r.Get("rbd")
	require.NotNil(t, got)
	assert.Equal(t, PolicyWarn, got.Policy)

	r.Delete("rbd")
	assert.Nil(t, r.Get("rbd"))
}

func TestRegistryFindByPool(t *testing.T) {
	r := NewRegistry(newMemStore())
	r.Put(&PoolSet{Name: "cephfs", PoolProperties: map[int]Properties{5: {}, 7: {}}})

	found := r.FindByPool(7)
	require.NotNil(t, found)
	assert.Equal(t, "cephfs", found.Name)

	assert.Nil(t, r.FindByPool(99))
}

func TestRegistryUniqueName(t *testing.T) {
	r := NewRegistry(newMemStore())
	r.Put(&PoolSet{Name: "rbd", PoolProperties: map[int]Properties{1: {}}})

	assert.Equal(t, "rbd_2", r.UniqueName("rbd"))
	assert.Equal(t, "other", r.UniqueName("other"))
}

func TestRegistrySaveLoadRoundTrip(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store)

	size := int64(1024)
	r.Put(&PoolSet{
		Name:           "rbd",
		Policy:         PolicyAutoscale,
		Application:    "rbd",
		PoolProperties: map[int]Properties{1: {TargetSize: &size}},
	})
	require.NoError(t, r.Save())

	r2 := NewRegistry(store)
	require.NoError(t, r2.Load())

	got := r2.Get("rbd")
	require.NotNil(t, got)
	assert.Equal(t, PolicyAutoscale, got.Policy)
	require.Contains(t, got.PoolProperties, 1)
	assert.Equal(t, size, *got.PoolProperties[1].TargetSize)
}

func TestRegistrySaveIsNoopWhenNotDirty(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store)
	require.NoError(t, r.Save())
	assert.Nil(t, store.values["state"])
}

func TestRegistryLoadRefusesNewerCompatVersion(t *testing.T) {
	store := newMemStore()
	store.values["state"] = []byte(`{"version":1,"compat_version":99,"poolsets":[]}`)

	r := NewRegistry(store)
	err := r.Load()
	assert.Error(t, err)
}
