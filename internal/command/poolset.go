// Package command implements the CLI surface consumed from the
// cluster-manager (spec.md §6.1): `poolset create/set/delete/ls` and
// `progress`/`progress clear`. Handlers never mutate state directly;
// they return an exit code and text the way a ceph mgr module command
// handler does, and any registry mutation goes through poolset.Registry
// so it is picked up by the next Save.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jcsp/pgautoscale/internal/accountant"
	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/config"
	"github.com/jcsp/pgautoscale/internal/corerr"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/manager"
	"github.com/jcsp/pgautoscale/internal/pgmath"
	"github.com/jcsp/pgautoscale/internal/poolset"
	"github.com/jcsp/pgautoscale/internal/progress"
)

// Exit codes, matching the negative-errno convention ceph mgr command
// handlers return.
const (
	ExitSuccess = 0
	ExitEEXIST  = -17
	ExitEINVAL  = -22
	ExitENOSYS  = -38
)

const ssdRuleName = "ssd-replicated"

type recipeEntry struct {
	suffix string
	ratio  float64
	isMeta bool
}

var recipes = map[string][]recipeEntry{
	"rados": {{suffix: "", ratio: 1.0}},
	"rbd":   {{suffix: "", ratio: 1.0}},
	"cephfs": {
		{suffix: "meta", ratio: 0.1, isMeta: true},
		{suffix: "data", ratio: 1.0},
	},
	"rgw": {
		{suffix: "rgw.control", ratio: 0.001, isMeta: true},
		{suffix: "rgw.log", ratio: 0.001, isMeta: true},
		{suffix: "rgw.meta", ratio: 0.001, isMeta: true},
		{suffix: "rgw.buckets.data", ratio: 1.0},
	},
}

// Handler dispatches command-surface operations against the current
// view, registry and accountant.
type Handler struct {
	Mgr        manager.Manager
	Cfg        *config.Config
	Registry   *poolset.Registry
	Accountant *accountant.Accountant
	Tracker    *progress.Tracker
}

// PoolsetCreate implements `poolset create`.
func (h *Handler) PoolsetCreate(view *clusterview.ClusterView, app, psname, size string) (int, string) {
	recipe, ok := recipes[app]
	if !ok {
		return ExitEINVAL, fmt.Sprintf("unknown application %q", app)
	}

	if existing := h.Registry.Get(psname); existing != nil {
		if existing.Application == app {
			return ExitSuccess, fmt.Sprintf("poolset %s already exists", psname)
		}
		return ExitEEXIST, fmt.Sprintf("poolset %s already exists with application %s", psname, existing.Application)
	}

	ratio, bytesVal, err := parseSize(size)
	if err != nil {
		return ExitEINVAL, err.Error()
	}

	if app == "rgw" {
		h.ensureRGWRoot(view)
	}

	ps := &poolset.PoolSet{
		Name:           psname,
		Policy:         poolset.PolicyWarn,
		Application:    app,
		PoolProperties: make(map[int]poolset.Properties),
		Creating:       true,
	}
	h.Registry.Put(ps)

	var created []string
	for _, entry := range recipe {
		poolName := psname
		if entry.suffix != "" {
			poolName = psname + "." + entry.suffix
		}

		ruleName := h.ruleForPool(view, entry.isMeta)
		status := h.Accountant.Compute(view, []string{ruleName})[ruleName]
		if status == nil {
			return ExitEINVAL, fmt.Sprintf("crush rule %s has no resolvable subtree", ruleName)
		}

		entryRatio := clampRatio(h.Registry, view, ruleName, entry.ratio)

		var props poolset.Properties
		var effectiveRatio float64
		if ratio != nil {
			r := *ratio * entryRatio
			props.TargetRatio = &r
			effectiveRatio = r
		} else {
			size := int64(float64(*bytesVal) * entryRatio)
			props.TargetSize = &size
			if status.Capacity > 0 {
				effectiveRatio = float64(size) / float64(status.Capacity)
			}
		}

		pgNum := pgmath.NearestPowerOfTwo(effectiveRatio * float64(status.PGTarget) / float64(h.Cfg.ReplicationSize))
		if pgNum < h.Cfg.MinPGNum {
			pgNum = h.Cfg.MinPGNum
		}

		cmd := h.Mgr.SendCommand("mon", "osd pool create", map[string]interface{}{
			"pool":      poolName,
			"pg_num":    pgNum,
			"pgp_num":   pgNum,
			"pool_type": "replicated",
			"rule":      ruleName,
		})
		rc, _, outs, waitErr := cmd.Wait(context.Background())
		if waitErr == nil && rc != 0 {
			log.Warnf("poolset create: osd pool create %s failed: %s", poolName, outs)
			continue
		}

		if pool, found := view.GetPoolByName(poolName); found {
			ps.PoolProperties[pool.ID] = props
		}
		created = append(created, poolName)
	}

	ps.Creating = false
	h.Registry.Put(ps)

	return ExitSuccess, fmt.Sprintf("created poolset %s with pools %s", psname, strings.Join(created, ","))
}

// ruleForPool resolves the CRUSH rule a new pool should use: an SSD
// rule for metadata pools when enough SSDs exist, otherwise the
// default replicated rule (spec.md §6.1's device class preference).
func (h *Handler) ruleForPool(view *clusterview.ClusterView, isMeta bool) string {
	if !isMeta {
		return h.Cfg.HDDRuleName
	}

	counts := view.DeviceClassCounts()
	if counts["ssd"] < h.Cfg.ReplicationSize+1 {
		return h.Cfg.HDDRuleName
	}

	if view.CrushMap.GetRuleByName(ssdRuleName) == nil {
		cmd := h.Mgr.SendCommand("mon", "osd crush rule create-replicated", map[string]interface{}{
			"name":  ssdRuleName,
			"root":  "default",
			"type":  "host",
			"class": "ssd",
		})
		_, _, _, _ = cmd.Wait(context.Background())
	}
	return ssdRuleName
}

const rgwRootPoolName = ".rgw.root"

// ensureRGWRoot provisions the shared `.rgw.root` pool the first time
// any rgw poolset is created, if it doesn't already exist (spec.md's
// supplemented RGW bootstrap feature). It is deliberately created
// outside any poolset: deleting an RGW zone's poolset later must not
// take the shared root pool down with it.
func (h *Handler) ensureRGWRoot(view *clusterview.ClusterView) {
	if _, found := view.GetPoolByName(rgwRootPoolName); found {
		return
	}

	ruleName := h.ruleForPool(view, true)
	cmd := h.Mgr.SendCommand("mon", "osd pool create", map[string]interface{}{
		"pool":      rgwRootPoolName,
		"pg_num":    h.Cfg.MinPGNum,
		"pgp_num":   h.Cfg.MinPGNum,
		"pool_type": "replicated",
		"rule":      ruleName,
	})
	rc, _, outs, waitErr := cmd.Wait(context.Background())
	if waitErr == nil && rc != 0 {
		log.Warnf("poolset create: bootstrap of %s failed: %s", rgwRootPoolName, outs)
		return
	}
	log.Infof("poolset create: bootstrapped standalone pool %s", rgwRootPoolName)
}

// clampRatio scales entryRatio down so the total target_ratio booked
// against ruleName across every existing poolset never exceeds 1.0.
func clampRatio(registry *poolset.Registry, view *clusterview.ClusterView, ruleName string, entryRatio float64) float64 {
	rule := view.CrushMap.GetRuleByName(ruleName)
	if rule == nil {
		return entryRatio
	}

	var used float64
	for _, ps := range registry.All() {
		for poolID, props := range ps.PoolProperties {
			pool, ok := view.GetPoolByID(poolID)
			if !ok || pool.CrushRuleID != rule.ID || props.TargetRatio == nil {
				continue
			}
			used += *props.TargetRatio
		}
	}

	available := 1.0 - used
	if available < 0 {
		available = 0
	}
	if entryRatio > available {
		return available
	}
	return entryRatio
}

// parseSize parses spec.md §6.1's `size` grammar: a trailing `%` means
// an integer percentage of the cluster; otherwise a byte count with an
// optional K/M/G/T suffix (base 1024).
func parseSize(s string) (ratio *float64, bytesVal *int64, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, corerr.NewConfiguration("empty size")
	}

	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return nil, nil, corerr.NewConfiguration("invalid percentage %q", s)
		}
		r := pct / 100.0
		return &r, nil, nil
	}

	mult := int64(1)
	unit := s[len(s)-1]
	numPart := s
	switch unit {
	case 'k', 'K':
		mult = 1024
		numPart = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	case 't', 'T':
		mult = 1024 * 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return nil, nil, corerr.NewConfiguration("invalid size %q", s)
	}
	b := n * mult
	return nil, &b, nil
}

// PoolsetSet implements `poolset set param=autoscale psname=<str> value=<str>`.
func (h *Handler) PoolsetSet(param, psname, value string) (int, string) {
	if param != "autoscale" {
		return ExitEINVAL, fmt.Sprintf("unknown param %q", param)
	}
	ps := h.Registry.Get(psname)
	if ps == nil {
		return ExitEINVAL, fmt.Sprintf("no such poolset %q", psname)
	}

	switch poolset.Policy(value) {
	case poolset.PolicySilent, poolset.PolicyWarn, poolset.PolicyAutoscale:
		ps.Policy = poolset.Policy(value)
	default:
		return ExitEINVAL, fmt.Sprintf("unknown policy %q", value)
	}

	h.Registry.Put(ps)
	return ExitSuccess, fmt.Sprintf("poolset %s policy set to %s", psname, value)
}

// PoolsetDelete implements `poolset delete psname=<str>`, currently
// unimplemented per spec.md §6.1.
func (h *Handler) PoolsetDelete(psname string) (int, string) {
	return ExitENOSYS, "poolset delete is not implemented"
}

// poolsetRecord is the JSON shape `poolset ls` emits.
type poolsetRecord struct {
	Name           string                     `json:"name"`
	Policy         poolset.Policy             `json:"policy"`
	Application    string                     `json:"application"`
	PoolProperties map[int]poolset.Properties `json:"pool_properties"`
}

// PoolsetLS implements `poolset ls`.
func (h *Handler) PoolsetLS() (int, string) {
	var records []poolsetRecord
	for _, ps := range h.Registry.All() {
		records = append(records, poolsetRecord{
			Name:           ps.Name,
			Policy:         ps.Policy,
			Application:    ps.Application,
			PoolProperties: ps.PoolProperties,
		})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return ExitEINVAL, err.Error()
	}
	return ExitSuccess, string(raw)
}

// progressRecord is the JSON shape `progress` emits for one event.
type progressRecord struct {
	ID       string  `json:"id"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

// Progress implements `progress`: list every tracked event.
func (h *Handler) Progress() (int, string) {
	var records []progressRecord
	for _, ev := range h.Tracker.List() {
		records = append(records, progressRecord{ID: ev.ID(), Message: ev.Message(), Progress: ev.Progress()})
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return ExitEINVAL, err.Error()
	}
	return ExitSuccess, string(raw)
}

// ProgressClear implements `progress clear`: drop every tracked event.
func (h *Handler) ProgressClear() (int, string) {
	for _, ev := range h.Tracker.List() {
		h.Tracker.Complete(ev.ID())
	}
	return ExitSuccess, "progress events cleared"
}
