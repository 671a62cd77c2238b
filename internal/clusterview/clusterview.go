package clusterview

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/jcsp/pgautoscale/internal/manager"
)

// ClusterView is a parse-once-per-tick snapshot of everything the
// autoscaler reads from the cluster manager (spec.md §4.1). Components
// downstream never read blobs from manager.Manager directly; they read
// through this type's accessors, which is what makes them testable
// against a fixture instead of a live cluster.
type ClusterView struct {
	mgr manager.Manager

	OSDMap    OSDMap
	CrushMap  CrushMap
	PGDump    PGDump
	PGSummary PGSummary
	DF        DF
	FSMap     FSMap
}

// New builds a ClusterView bound to mgr. Call Refresh before reading
// anything from it.
func New(mgr manager.Manager) *ClusterView {
	return &ClusterView{mgr: mgr}
}

// Refresh pulls every named blob from the manager and parses it,
// replacing the prior snapshot wholesale. Each call sees a
// self-consistent set of blobs as of that moment; nothing here mutates
// incrementally between refreshes.
func (v *ClusterView) Refresh() error {
	if err := v.fetch(manager.BlobOSDMap, &v.OSDMap); err != nil {
		return errors.Wrap(err, "refresh osd map")
	}
	var nodes []CrushNode
	if err := v.fetch(manager.BlobOSDMapTree, &nodes); err != nil {
		return errors.Wrap(err, "refresh osd map tree")
	}
	var rules struct {
		Rules []CrushRule `json:"rules"`
	}
	if err := v.fetch(manager.BlobOSDMapCrush, &rules); err != nil {
		return errors.Wrap(err, "refresh osd map crush")
	}
	v.CrushMap = CrushMap{Rules: rules.Rules, Nodes: nodes}

	if err := v.fetch(manager.BlobPGDump, &v.PGDump); err != nil {
		return errors.Wrap(err, "refresh pg dump")
	}
	if err := v.fetch(manager.BlobPGSummary, &v.PGSummary); err != nil {
		return errors.Wrap(err, "refresh pg summary")
	}
	if err := v.fetch(manager.BlobDF, &v.DF); err != nil {
		return errors.Wrap(err, "refresh df")
	}
	if err := v.fetch(manager.BlobMDSMap, &v.FSMap); err != nil {
		return errors.Wrap(err, "refresh fs map")
	}
	return nil
}

func (v *ClusterView) fetch(name string, out interface{}) error {
	raw, err := v.mgr.Get(name)
	if err != nil {
		return errors.Wrapf(err, "get %s", name)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(err, "unmarshal %s", name)
	}
	return nil
}

// GetPoolByID finds a pool by id.
func (v *ClusterView) GetPoolByID(id int) (*Pool, bool) {
	p := v.OSDMap.GetPoolByID(id)
	return p, p != nil
}

// GetPoolByName finds a pool by name.
func (v *ClusterView) GetPoolByName(name string) (*Pool, bool) {
	p := v.OSDMap.GetPoolByName(name)
	return p, p != nil
}

// PoolRawUsedRate returns the effective per-logical-byte cost after
// replication/erasure overhead for the given pool, e.g. 3.0 for a 3x
// replicated pool (spec glossary). The rate is the pool's size for
// every pool, erasure-coded or not; an absent pool or one with no size
// reports 1.0.
func (v *ClusterView) PoolRawUsedRate(poolID int) float64 {
	p := v.OSDMap.GetPoolByID(poolID)
	if p == nil || p.Size <= 0 {
		return 1.0
	}
	return float64(p.Size)
}

// GetRuleByID finds a CRUSH rule by id.
func (v *ClusterView) GetRuleByID(id int) (*CrushRule, bool) {
	r := v.CrushMap.GetRuleByID(id)
	return r, r != nil
}

// GetRuleRoot returns the root node name the named rule draws from.
func (v *ClusterView) GetRuleRoot(ruleName string) (string, bool) {
	root := v.CrushMap.GetRuleRoot(ruleName)
	return root, root != ""
}

// GetOSDsUnder returns the OSD ids reachable under the named CRUSH
// root.
func (v *ClusterView) GetOSDsUnder(root string) map[int]bool {
	return v.CrushMap.GetOSDsUnder(root)
}

// DeviceClassCounts returns OSD leaf counts per device class.
func (v *ClusterView) DeviceClassCounts() map[string]int {
	return v.CrushMap.DeviceClassCounts()
}

// PGToUpActingOSDs returns the up and acting OSD sets for PG
// "{poolID}.{ps}" (ps formatted in hex, matching ceph's pgid
// encoding), the Go equivalent of the original's pg_to_up_acting_osds.
func (v *ClusterView) PGToUpActingOSDs(poolID int, ps int) (up, acting []int, found bool) {
	pgid := fmt.Sprintf("%d.%x", poolID, ps)
	for i := range v.PGDump.PGStats {
		if v.PGDump.PGStats[i].PGID == pgid {
			return v.PGDump.PGStats[i].Up, v.PGDump.PGStats[i].Acting, true
		}
	}
	return nil, nil, false
}

// PGStateCounts returns the state histogram for a pool's PGs as
// reported by pg_summary, e.g. {"active+clean": 32}.
func (v *ClusterView) PGStateCounts(poolID int) map[string]int {
	key := fmt.Sprintf("%d", poolID)
	if v.PGSummary.ByPool == nil {
		return nil
	}
	return v.PGSummary.ByPool[key]
}

// PoolBytesUsed returns the raw bytes used by a pool as reported by
// df.
func (v *ClusterView) PoolBytesUsed(poolID int) int64 {
	for _, p := range v.DF.Pools {
		if p.ID == poolID {
			return p.Stats.BytesUsed
		}
	}
	return 0
}

// OSDCount returns the number of OSDs currently in the OSD map.
func (v *ClusterView) OSDCount() int {
	return len(v.OSDMap.OSDs)
}

// FilesystemForDataPool returns the name of the filesystem that uses
// the given pool id as a data pool or as its metadata pool.
func (v *ClusterView) FilesystemForDataPool(poolID int) (string, bool) {
	for _, fs := range v.FSMap.Filesystems {
		for _, dp := range fs.MDSMap.DataPools {
			if dp == poolID {
				return fs.MDSMap.FSName, true
			}
		}
		if fs.MDSMap.MetadataPool == poolID {
			return fs.MDSMap.FSName, true
		}
	}
	return "", false
}
