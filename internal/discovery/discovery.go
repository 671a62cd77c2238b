// Package discovery reconciles the poolset registry with the current
// OSD and FS maps (spec.md §4.4): pools that vanished lose their
// poolset membership, unowned pools get adopted, and CephFS
// filesystems get their metadata+first-data-pool poolset maintained
// automatically.
package discovery

import (
	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/poolset"
)

const (
	appCephFS = "cephfs"
	appRGW    = "rgw"
)

// AutoDiscovery runs the reconciliation steps against a registry.
type AutoDiscovery struct {
	registry *poolset.Registry
}

// New builds an AutoDiscovery bound to registry.
func New(registry *poolset.Registry) *AutoDiscovery {
	return &AutoDiscovery{registry: registry}
}

// Run executes purge, adopt and FS-map reconciliation in order, unless
// any poolset is mid-creation, in which case it is a no-op (spec.md
// §4.4: "only when the registry is not creating").
func (d *AutoDiscovery) Run(view *clusterview.ClusterView) {
	for _, ps := range d.registry.All() {
		if ps.Creating {
			return
		}
	}

	d.purge(view)
	d.adopt(view)
	d.reconcileFilesystems(view)
}

// purge drops pools that no longer exist in the OSD map, then drops
// any poolset left with no pools.
func (d *AutoDiscovery) purge(view *clusterview.ClusterView) {
	for _, ps := range d.registry.All() {
		changed := false
		for poolID := range ps.PoolProperties {
			if _, ok := view.GetPoolByID(poolID); !ok {
				delete(ps.PoolProperties, poolID)
				changed = true
			}
		}
		if len(ps.PoolProperties) == 0 {
			d.registry.Delete(ps.Name)
			log.Infof("auto-discovery: removed empty poolset %s", ps.Name)
			continue
		}
		if changed {
			d.registry.Put(ps)
		}
	}
}

// adopt creates a single-pool poolset for every live pool with no
// owner, except pools tagged cephfs or rgw (handled elsewhere).
func (d *AutoDiscovery) adopt(view *clusterview.ClusterView) {
	for i := range view.OSDMap.Pools {
		pool := &view.OSDMap.Pools[i]
		if d.registry.FindByPool(pool.ID) != nil {
			continue
		}
		if pool.HasApplication(appCephFS) || pool.HasApplication(appRGW) {
			continue
		}

		name := d.registry.UniqueName(pool.Name)
		d.registry.Put(&poolset.PoolSet{
			Name:        name,
			Policy:      poolset.PolicyWarn,
			Application: "",
			PoolProperties: map[int]poolset.Properties{
				pool.ID: {},
			},
		})
		log.Infof("auto-discovery: adopted pool %s into new poolset %s", pool.Name, name)
	}
}

// reconcileFilesystems maintains, for each CephFS filesystem, a
// poolset containing its metadata pool and first data pool.
func (d *AutoDiscovery) reconcileFilesystems(view *clusterview.ClusterView) {
	for _, fs := range view.FSMap.Filesystems {
		if len(fs.MDSMap.DataPools) == 0 {
			continue
		}
		metadataPool := fs.MDSMap.MetadataPool
		firstData := fs.MDSMap.DataPools[0]

		target := d.registry.FindByPool(metadataPool)
		if target == nil {
			target = &poolset.PoolSet{
				Name:           fs.MDSMap.FSName,
				Policy:         poolset.PolicyWarn,
				Application:    appCephFS,
				PoolProperties: map[int]poolset.Properties{metadataPool: {}},
			}
			d.registry.Put(target)
			log.Infof("auto-discovery: created filesystem poolset %s", target.Name)
		}

		if target.HasPool(firstData) {
			continue
		}

		if donor := d.registry.FindByPool(firstData); donor != nil && donor.Name != target.Name {
			if len(donor.PoolProperties) == 1 {
				// Data pool was alone in its own poolset: merge the
				// donor's target hints into the filesystem's poolset
				// and remove the donor.
				for id, props := range donor.PoolProperties {
					target.PoolProperties[id] = props
				}
				d.registry.Delete(donor.Name)
				log.Infof("auto-discovery: merged poolset %s into %s", donor.Name, target.Name)
			} else {
				// Data pool lives in a multi-pool poolset already:
				// leave it there untouched.
				continue
			}
		} else {
			target.PoolProperties[firstData] = poolset.Properties{}
		}

		d.registry.Put(target)
	}
}
