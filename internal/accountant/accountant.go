// Package accountant computes per-CRUSH-subtree PG and capacity
// budgets (spec.md §4.2), the input every downstream planning decision
// is measured against.
package accountant

import (
	"fmt"

	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/config"
	"github.com/jcsp/pgautoscale/internal/log"
)

// ResourceStatus is CrushSubtreeResourceStatus from spec.md §3.
type ResourceStatus struct {
	Root      string
	OSDs      map[int]bool
	OSDCount  int
	Capacity  int64
	PGCurrent int
	PGTarget  int
}

// Accountant computes ResourceStatus per CRUSH rule.
type Accountant struct {
	cfg *config.Config
}

// New builds an Accountant.
func New(cfg *config.Config) *Accountant {
	return &Accountant{cfg: cfg}
}

// Compute implements spec.md §4.2's `compute(osdmap, crush_map, rules?)`.
// ruleNames, if non-empty, restricts the computation to those rules;
// otherwise every rule present in the CRUSH map is considered. If two
// rules' root subtrees share any OSD, the accountant degrades to a
// single global pot spanning every OSD in the map and logs a warning
// (spec.md §7 Inconsistency).
func (a *Accountant) Compute(view *clusterview.ClusterView, ruleNames []string) map[string]*ResourceStatus {
	if len(ruleNames) == 0 {
		for _, r := range view.CrushMap.Rules {
			ruleNames = append(ruleNames, r.Name)
		}
	}

	perRule := make(map[string]map[int]bool, len(ruleNames))
	for _, name := range ruleNames {
		root, ok := view.GetRuleRoot(name)
		if !ok {
			continue
		}
		perRule[name] = view.GetOSDsUnder(root)
	}

	if overlaps(perRule) {
		log.Warn("crush subtrees overlap; degrading to a single global resource pot")
		return a.computeGlobalPot(view)
	}

	out := make(map[string]*ResourceStatus, len(perRule))
	for name, osds := range perRule {
		root, _ := view.GetRuleRoot(name)
		out[name] = a.computeForSubtree(view, root, osds)
	}
	return out
}

func overlaps(perRule map[string]map[int]bool) bool {
	seen := make(map[int]string, 64)
	for rule, osds := range perRule {
		for osd := range osds {
			if owner, ok := seen[osd]; ok && owner != rule {
				return true
			}
			seen[osd] = rule
		}
	}
	return false
}

func (a *Accountant) computeGlobalPot(view *clusterview.ClusterView) map[string]*ResourceStatus {
	all := make(map[int]bool, len(view.OSDMap.OSDs))
	for _, osd := range view.OSDMap.OSDs {
		all[osd.ID] = true
	}
	status := a.computeForSubtree(view, "", all)
	return map[string]*ResourceStatus{"": status}
}

// computeForSubtree counts PGs mapped under root by scanning
// pg_dump.pg_stats: a PG is present when any OSD in its acting set
// lies under root, de-duplicated per PG. Raw capacity sums
// osd_stats[*].kb*1024 over osds in the set, ignoring reweight.
func (a *Accountant) computeForSubtree(view *clusterview.ClusterView, root string, osds map[int]bool) *ResourceStatus {
	var pgCount int
	for _, pg := range view.PGDump.PGStats {
		for _, osd := range pg.Acting {
			if osds[osd] {
				pgCount++
				break
			}
		}
	}

	var capacity int64
	for _, stat := range view.PGDump.OSDStats {
		if osds[stat.OSD] {
			capacity += stat.KB * 1024
		}
	}

	osdCount := len(osds)
	return &ResourceStatus{
		Root:      root,
		OSDs:      osds,
		OSDCount:  osdCount,
		Capacity:  capacity,
		PGCurrent: pgCount,
		PGTarget:  osdCount * a.cfg.TargetPGsPerOSD,
	}
}

// String is used by diagnostics and tests.
func (s *ResourceStatus) String() string {
	return fmt.Sprintf("root=%s osds=%d capacity=%d pg_current=%d pg_target=%d",
		s.Root, s.OSDCount, s.Capacity, s.PGCurrent, s.PGTarget)
}
