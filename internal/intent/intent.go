// Package intent derives, for every pool, whether its pg_num should
// change this tick (spec.md §4.5). Intents are ephemeral: the planner
// produces a fresh set every tick and nothing here is persisted.
package intent

import (
	"sort"

	"github.com/jcsp/pgautoscale/internal/accountant"
	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/config"
	"github.com/jcsp/pgautoscale/internal/poolset"
)

// Kind distinguishes a growth from a shrink intent.
type Kind string

const (
	Grow   Kind = "grow"
	Shrink Kind = "shrink"
)

// Adjustment is an AdjustmentIntent from spec.md §3.
type Adjustment struct {
	PoolSetName       string
	PoolID            int
	PoolName          string
	Kind              Kind
	CurrentPGNum      int
	NewPGNum          int
	RawUsedRate       float64
	UndersizeFraction float64
	Resource          *accountant.ResourceStatus
}

// Planner derives Adjustments for every (poolset, pool) pair.
type Planner struct {
	cfg *config.Config
}

// New builds a Planner.
func New(cfg *config.Config) *Planner {
	return &Planner{cfg: cfg}
}

// Plan produces the tick's intents, given the current cluster view,
// registry and the per-subtree resource status computed by
// accountant.Compute, keyed by CRUSH rule name.
func (p *Planner) Plan(view *clusterview.ClusterView, registry *poolset.Registry, resources map[string]*accountant.ResourceStatus) []*Adjustment {
	var out []*Adjustment

	for _, ps := range registry.All() {
		for _, poolID := range ps.PoolIDs() {
			pool, ok := view.GetPoolByID(poolID)
			if !ok {
				continue
			}

			rule, ok := view.GetRuleByID(pool.CrushRuleID)
			var status *accountant.ResourceStatus
			if ok {
				status = resources[rule.Name]
			}
			if status == nil {
				// Degraded single-pot accounting is keyed under "".
				status = resources[""]
			}
			if status == nil || status.Capacity == 0 {
				continue
			}

			rawUsed := view.PoolRawUsedRate(poolID)
			poolRawUsed := float64(view.PoolBytesUsed(poolID)) * rawUsed
			capacityRatio := poolRawUsed / float64(status.Capacity)

			poolPGTarget := capacityRatio * float64(status.PGTarget) / rawUsed
			if poolPGTarget < float64(p.cfg.MinPGNum) {
				poolPGTarget = float64(p.cfg.MinPGNum)
			}

			current := pool.PGNum
			if poolPGTarget > float64(current*2) {
				out = append(out, &Adjustment{
					PoolSetName:       ps.Name,
					PoolID:            poolID,
					PoolName:          pool.Name,
					Kind:              Grow,
					CurrentPGNum:      current,
					NewPGNum:          current * 2,
					RawUsedRate:       rawUsed,
					UndersizeFraction: poolPGTarget / float64(current),
					Resource:          status,
				})
			} else if poolPGTarget < float64(current)/2 {
				newPG := current / 2
				if newPG < p.cfg.MinPGNum {
					newPG = p.cfg.MinPGNum
				}
				out = append(out, &Adjustment{
					PoolSetName:       ps.Name,
					PoolID:            poolID,
					PoolName:          pool.Name,
					Kind:              Shrink,
					CurrentPGNum:      current,
					NewPGNum:          newPG,
					RawUsedRate:       rawUsed,
					UndersizeFraction: poolPGTarget / float64(current),
					Resource:          status,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out
}

// PGDelta returns the signed change in PG count this intent requests.
func (a *Adjustment) PGDelta() int {
	return a.NewPGNum - a.CurrentPGNum
}
