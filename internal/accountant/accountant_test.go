package accountant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/config"
)

func fixtureView() *clusterview.ClusterView {
	view := clusterview.New(nil)
	view.OSDMap = clusterview.OSDMap{
		Pools: []clusterview.Pool{{ID: 1, Name: "rbd", PGNum: 64, CrushRuleID: 0, Size: 3}},
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
		PGStats: []clusterview.PGStat{
			{PGID: "1.0", State: "active+clean", Acting: []int{0, 1, 2}},
			{PGID: "1.1", State: "active+clean", Acting: []int{2, 3, 4}},
		},
		OSDStats: []clusterview.OSDStat{
			{OSD: 0, KB: 1000}, {OSD: 1, KB: 1000}, {OSD: 2, KB: 1000}, {OSD: 3, KB: 1000}, {OSD: 4, KB: 1000},
		},
	}
	return view
}

func TestComputeSingleSubtree(t *testing.T) {
	cfg := config.New()
	a := New(cfg)

	statuses := a.Compute(fixtureView(), []string{"replicated_rule"})
	status := statuses["replicated_rule"]

	assert.Equal(t, 5, status.OSDCount)
	assert.Equal(t, "default", status.Root)
	assert.Equal(t, 2, status.PGCurrent)
	assert.Equal(t, 5*1000*1024, int(status.Capacity))
	assert.Equal(t, 5*cfg.TargetPGsPerOSD, status.PGTarget)
}

func TestComputeOverlapDegradesToGlobalPot(t *testing.T) {
	view := fixtureView()
	view.CrushMap.Rules = append(view.CrushMap.Rules, clusterview.CrushRule{
		ID: 1, Name: "overlapping_rule", Steps: []clusterview.CrushRuleStep{{Op: "take", ItemName: "default"}},
	})

	cfg := config.New()
	a := New(cfg)
	statuses := a.Compute(view, []string{"replicated_rule", "overlapping_rule"})

	// Both rules resolve to the same root, so osds collide and the
	// accountant must degrade to a single global pot keyed under "".
	_, hasGlobal := statuses[""]
	assert.True(t, hasGlobal)
	assert.Len(t, statuses, 1)
}
