package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcsp/pgautoscale/internal/accountant"
	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/config"
	"github.com/jcsp/pgautoscale/internal/manager"
	"github.com/jcsp/pgautoscale/internal/poolset"
	"github.com/jcsp/pgautoscale/internal/progress"
)

type autoAckManager struct{}

func (a *autoAckManager) Get(name string) ([]byte, error) { return nil, nil }
func (a *autoAckManager) SendCommand(target, prefix string, args map[string]interface{}) *manager.Command {
	cmd := manager.NewCommand()
	cmd.Complete(0, "", "")
	return cmd
}
func (a *autoAckManager) SetHealthChecks(checks map[string]manager.HealthCheck) {}
func (a *autoAckManager) GetConfigJSON(key string) ([]byte, error)             { return nil, nil }
func (a *autoAckManager) SetConfigJSON(key string, value []byte) error        { return nil }

// recordingManager wraps autoAckManager's ack behaviour while recording
// every command prefix/pool issued, for tests that assert *which*
// commands a handler issued rather than just its return value.
type recordingManager struct {
	autoAckManager
	commands []map[string]interface{}
}

func (r *recordingManager) SendCommand(target, prefix string, args map[string]interface{}) *manager.Command {
	r.commands = append(r.commands, args)
	return r.autoAckManager.SendCommand(target, prefix, args)
}

type memStore struct{ values map[string][]byte }

func (m *memStore) GetConfigJSON(key string) ([]byte, error) { return m.values[key], nil }
func (m *memStore) SetConfigJSON(key string, v []byte) error { m.values[key] = v; return nil }

func fixtureView() *clusterview.ClusterView {
	view := clusterview.New(nil)
	view.OSDMap = clusterview.OSDMap{
		OSDs: []clusterview.OSDEntry{
			{ID: 0, In: 1}, {ID: 1, In: 1}, {ID: 2, In: 1}, {ID: 3, In: 1}, {ID: 4, In: 1},
		},
	}
	view.CrushMap = clusterview.CrushMap{
		Rules: []clusterview.CrushRule{
			{ID: 0, Name: "replicated_rule", Steps: []clusterview.CrushRuleStep{{Op: "take", ItemName: "default"}}},
		},
		Nodes: []clusterview.CrushNode{
			{ID: -1, Name: "default", Type: "root", Children: []int{0, 1, 2, 3, 4}},
			{ID: 0, Name: "osd.0", Type: "osd", DeviceClass: "hdd"},
			{ID: 1, Name: "osd.1", Type: "osd", DeviceClass: "hdd"},
			{ID: 2, Name: "osd.2", Type: "osd", DeviceClass: "hdd"},
			{ID: 3, Name: "osd.3", Type: "osd", DeviceClass: "hdd"},
			{ID: 4, Name: "osd.4", Type: "osd", DeviceClass: "hdd"},
		},
	}
	view.PGDump = clusterview.PGDump{
		OSDStats: []clusterview.OSDStat{
			{OSD: 0, KB: 1000}, {OSD: 1, KB: 1000}, {OSD: 2, KB: 1000}, {OSD: 3, KB: 1000}, {OSD: 4, KB: 1000},
		},
	}
	return view
}

func newHandler() *Handler {
	cfg := config.New()
	registry := poolset.NewRegistry(&memStore{values: make(map[string][]byte)})
	return &Handler{
		Mgr:        &autoAckManager{},
		Cfg:        cfg,
		Registry:   registry,
		Accountant: accountant.New(cfg),
		Tracker:    progress.New(),
	}
}

func TestPoolsetCreateIsIdempotent(t *testing.T) {
	h := newHandler()
	view := fixtureView()

	rc, _ := h.PoolsetCreate(view, "rbd", "myrbd", "10%")
	assert.Equal(t, ExitSuccess, rc)
	require.NotNil(t, h.Registry.Get("myrbd"))

	rc2, msg2 := h.PoolsetCreate(view, "rbd", "myrbd", "10%")
	assert.Equal(t, ExitSuccess, rc2)
	assert.Contains(t, msg2, "already exists")
}

func TestPoolsetCreateEEXISTOnApplicationMismatch(t *testing.T) {
	h := newHandler()
	view := fixtureView()

	rc, _ := h.PoolsetCreate(view, "rbd", "myset", "10%")
	require.Equal(t, ExitSuccess, rc)

	rc2, msg2 := h.PoolsetCreate(view, "rados", "myset", "10%")
	assert.Equal(t, ExitEEXIST, rc2)
	assert.Contains(t, msg2, "already exists")
}

func TestPoolsetCreateEINVALOnUnknownApplication(t *testing.T) {
	h := newHandler()
	view := fixtureView()

	rc, msg := h.PoolsetCreate(view, "nonsense", "myset", "10%")
	assert.Equal(t, ExitEINVAL, rc)
	assert.Contains(t, msg, "unknown application")
}

func TestPoolsetCreateRGWBootstrapsSharedRootPool(t *testing.T) {
	cfg := config.New()
	mgr := &recordingManager{}
	h := &Handler{
		Mgr:        mgr,
		Cfg:        cfg,
		Registry:   poolset.NewRegistry(&memStore{values: make(map[string][]byte)}),
		Accountant: accountant.New(cfg),
		Tracker:    progress.New(),
	}
	view := fixtureView()

	rc, _ := h.PoolsetCreate(view, "rgw", "myzone", "10%")
	require.Equal(t, ExitSuccess, rc)

	var bootstrapped bool
	for _, cmd := range mgr.commands {
		if cmd["pool"] == ".rgw.root" {
			bootstrapped = true
		}
	}
	assert.True(t, bootstrapped, "expected a standalone .rgw.root pool to be created")

	// The bootstrap pool must not belong to the new poolset.
	ps := h.Registry.Get("myzone")
	require.NotNil(t, ps)
	for poolID := range ps.PoolProperties {
		pool, ok := view.GetPoolByID(poolID)
		if ok {
			assert.NotEqual(t, ".rgw.root", pool.Name)
		}
	}
}

func TestPoolsetCreateRGWSkipsBootstrapWhenRootAlreadyExists(t *testing.T) {
	cfg := config.New()
	mgr := &recordingManager{}
	h := &Handler{
		Mgr:        mgr,
		Cfg:        cfg,
		Registry:   poolset.NewRegistry(&memStore{values: make(map[string][]byte)}),
		Accountant: accountant.New(cfg),
		Tracker:    progress.New(),
	}
	view := fixtureView()
	view.OSDMap.Pools = append(view.OSDMap.Pools, clusterview.Pool{ID: 99, Name: ".rgw.root"})

	rc, _ := h.PoolsetCreate(view, "rgw", "myzone", "10%")
	require.Equal(t, ExitSuccess, rc)

	for _, cmd := range mgr.commands {
		assert.NotEqual(t, ".rgw.root", cmd["pool"])
	}
}

func TestPoolsetDeleteIsUnimplemented(t *testing.T) {
	h := newHandler()
	rc, _ := h.PoolsetDelete("anything")
	assert.Equal(t, ExitENOSYS, rc)
}

func TestPoolsetSetUpdatesPolicy(t *testing.T) {
	h := newHandler()
	h.Registry.Put(&poolset.PoolSet{Name: "rbd", Policy: poolset.PolicyWarn, PoolProperties: map[int]poolset.Properties{1: {}}})

	rc, _ := h.PoolsetSet("autoscale", "rbd", "autoscale")
	assert.Equal(t, ExitSuccess, rc)
	assert.Equal(t, poolset.PolicyAutoscale, h.Registry.Get("rbd").Policy)
}

func TestPoolsetSetRejectsUnknownPolicy(t *testing.T) {
	h := newHandler()
	h.Registry.Put(&poolset.PoolSet{Name: "rbd", Policy: poolset.PolicyWarn, PoolProperties: map[int]poolset.Properties{1: {}}})

	rc, _ := h.PoolsetSet("autoscale", "rbd", "bogus")
	assert.Equal(t, ExitEINVAL, rc)
}

func TestParseSizePercentage(t *testing.T) {
	ratio, bytesVal, err := parseSize("10%")
	require.NoError(t, err)
	require.NotNil(t, ratio)
	assert.Nil(t, bytesVal)
	assert.InDelta(t, 0.10, *ratio, 0.0001)
}

func TestParseSizeByteSuffixes(t *testing.T) {
	_, bytesVal, err := parseSize("5G")
	require.NoError(t, err)
	require.NotNil(t, bytesVal)
	assert.Equal(t, int64(5*1024*1024*1024), *bytesVal)
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	_, _, err := parseSize("not-a-size")
	assert.Error(t, err)
}
