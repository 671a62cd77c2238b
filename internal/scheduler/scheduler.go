// Package scheduler implements AdjustmentScheduler (spec.md §4.6):
// given a tick's intents it publishes health checks for blocked
// growths, then picks at most one intent to actually execute, donating
// PG budget from a shrink when the growing subtree is short on room.
package scheduler

import (
	"fmt"
	"sort"

	"github.com/jcsp/pgautoscale/internal/driver"
	"github.com/jcsp/pgautoscale/internal/intent"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/manager"
	"github.com/jcsp/pgautoscale/internal/poolset"
	"github.com/jcsp/pgautoscale/internal/progress"
)

const healthCheckName = "MGR_POOLSETS_TOO_FEW_PGS"

// Scheduler owns the single active AdjustmentInProgress.
type Scheduler struct {
	mgr     manager.Manager
	chunk   int
	tracker *progress.Tracker
	active  *driver.InProgress
}

// New builds a Scheduler.
func New(mgr manager.Manager, chunkSize int, tracker *progress.Tracker) *Scheduler {
	return &Scheduler{mgr: mgr, chunk: chunkSize, tracker: tracker}
}

// Active returns the current in-flight adjustment, nil if none.
func (s *Scheduler) Active() *driver.InProgress {
	return s.active
}

// Clear drops the active adjustment, called once the driver reports it done/aborted.
func (s *Scheduler) Clear() {
	s.active = nil
}

// Schedule runs health publication, then (if no adjustment is already
// in flight) groups intents by subtree root and starts at most one.
func (s *Scheduler) Schedule(intents []*intent.Adjustment, registry *poolset.Registry) {
	s.publishHealth(intents, registry)

	if s.active != nil {
		return
	}

	groups := groupByRoot(intents)
	var roots []string
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		if s.maybeGrow(groups[root], registry) {
			return
		}
	}
}

// publishHealth emits a warning naming every growth intent whose
// poolset policy is warn, clearing the check once none remain.
func (s *Scheduler) publishHealth(intents []*intent.Adjustment, registry *poolset.Registry) {
	var names []string
	for _, in := range intents {
		if in.Kind != intent.Grow {
			continue
		}
		ps := registry.Get(in.PoolSetName)
		if ps != nil && ps.Policy == poolset.PolicyWarn {
			names = append(names, in.PoolName)
		}
	}

	if len(names) == 0 {
		s.mgr.SetHealthChecks(map[string]manager.HealthCheck{})
		return
	}

	sort.Strings(names)
	s.mgr.SetHealthChecks(map[string]manager.HealthCheck{
		healthCheckName: {
			Severity: "warning",
			Summary:  fmt.Sprintf("%d pool(s) would benefit from more placement groups", len(names)),
			Detail:   names,
		},
	})
}

func groupByRoot(intents []*intent.Adjustment) map[string][]*intent.Adjustment {
	groups := make(map[string][]*intent.Adjustment)
	for _, in := range intents {
		root := in.Resource.Root
		groups[root] = append(groups[root], in)
	}
	return groups
}

// maybeGrow implements spec.md §4.6 step 3 for one subtree. It returns
// true once it has started an adjustment (a growth directly, or a
// donor shrink to make room for one).
func (s *Scheduler) maybeGrow(intents []*intent.Adjustment, registry *poolset.Registry) bool {
	var growths []*intent.Adjustment
	for _, in := range intents {
		if in.Kind != intent.Grow {
			continue
		}
		if ps := registry.Get(in.PoolSetName); ps == nil || ps.Policy != poolset.PolicyAutoscale {
			continue
		}
		growths = append(growths, in)
	}
	if len(growths) == 0 {
		return false
	}

	sortByUndersizeDesc(growths)
	chosen := growths[0]

	status := chosen.Resource
	available := status.PGTarget - status.PGCurrent
	needed := int(float64(chosen.PGDelta()) * chosen.RawUsedRate)

	if available >= needed {
		s.start(chosen.PoolName, chosen.CurrentPGNum, chosen.NewPGNum)
		return true
	}

	deficit := needed - available
	donor := pickDonor(intents, registry, deficit)
	if donor == nil {
		return false
	}
	log.Infof("scheduler: donating pg budget from %s to grow %s", donor.PoolName, chosen.PoolName)
	s.start(donor.PoolName, donor.CurrentPGNum, donor.NewPGNum)
	return true
}

// pickDonor finds the smallest autoscale shrink whose |pg_delta| ≥
// deficit; if none qualifies, the largest shrink intent.
func pickDonor(intents []*intent.Adjustment, registry *poolset.Registry, deficit int) *intent.Adjustment {
	var shrinks []*intent.Adjustment
	for _, in := range intents {
		if in.Kind != intent.Shrink {
			continue
		}
		if ps := registry.Get(in.PoolSetName); ps == nil || ps.Policy != poolset.PolicyAutoscale {
			continue
		}
		shrinks = append(shrinks, in)
	}
	if len(shrinks) == 0 {
		return nil
	}

	sort.Slice(shrinks, func(i, j int) bool {
		di, dj := -shrinks[i].PGDelta(), -shrinks[j].PGDelta()
		if di != dj {
			return di < dj
		}
		return shrinks[i].PoolID < shrinks[j].PoolID
	})

	var best *intent.Adjustment
	for _, sh := range shrinks {
		if -sh.PGDelta() >= deficit {
			best = sh
			break
		}
	}
	if best != nil {
		return best
	}
	// No shrink covers the deficit: take the largest.
	return shrinks[len(shrinks)-1]
}

func sortByUndersizeDesc(in []*intent.Adjustment) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].UndersizeFraction != in[j].UndersizeFraction {
			return in[i].UndersizeFraction > in[j].UndersizeFraction
		}
		return in[i].PoolID < in[j].PoolID
	})
}

func (s *Scheduler) start(poolName string, oldPGNum, newPGNum int) {
	s.active = driver.Start(poolName, oldPGNum, newPGNum, s.chunk)
	s.tracker.Register(progress.NewRemoteEvent(s.active.UUID, s.active.Message()))
	log.Infof("scheduler: starting adjustment %s", s.active.Message())
}
