// Package driver implements the AdjustmentDriver state machine
// (spec.md §4.7) that steps a single in-flight pg_num/pgp_num change
// to completion, chunk by chunk, cooperating with shutdown the way
// manager.Command.Wait does.
package driver

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/corerr"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/manager"
)

// Phase is one of AdjustmentInProgress's three states.
type Phase string

const (
	PhaseWaitPGs    Phase = "wait_pgs"
	PhaseWaitOSDMap Phase = "wait_osdmap"
	PhaseDone       Phase = "done"
)

// InProgress is the single live AdjustmentInProgress (spec.md §3); at
// most one instance exists system-wide, owned exclusively by the
// scheduler.
type InProgress struct {
	UUID       string
	PoolName   string
	OldPGNum   int
	NewPGNum   int
	ChunkSize  int
	Phase      Phase
	pendingVal int
}

// Start begins driving pool from oldPGNum to newPGNum in steps of
// chunkSize (≥1).
func Start(poolName string, oldPGNum, newPGNum, chunkSize int) *InProgress {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return &InProgress{
		UUID:      uuid.NewString(),
		PoolName:  poolName,
		OldPGNum:  oldPGNum,
		NewPGNum:  newPGNum,
		ChunkSize: chunkSize,
		Phase:     PhaseWaitPGs,
	}
}

// Progress reports |pg_num - old_pg_num| / |new_pg_num - old_pg_num|,
// clamped to [0,1].
func (ai *InProgress) Progress(currentPGNum int) float64 {
	denom := ai.NewPGNum - ai.OldPGNum
	if denom == 0 {
		return 1
	}
	ratio := float64(currentPGNum-ai.OldPGNum) / float64(denom)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// Message renders the in-progress display text (spec.md §9's resolved
// open question): "{pool} pg_num from {old} to {new}".
func (ai *InProgress) Message() string {
	return fmt.Sprintf("%s pg_num from %d to %d", ai.PoolName, ai.OldPGNum, ai.NewPGNum)
}

// Driver advances InProgress instances against a ClusterView and
// issues monitor commands through a manager.Manager.
type Driver struct {
	mgr manager.Manager
}

// New builds a Driver bound to mgr.
func New(mgr manager.Manager) *Driver {
	return &Driver{mgr: mgr}
}

// Advance runs one step of the state machine. It returns done=true
// once the adjustment has reached Phase done. A non-nil err means the
// adjustment must be abandoned (corerr.Aborted) or that a monitor
// command failed (corerr.CommandFailed); in both cases the caller
// clears the active adjustment.
func (d *Driver) Advance(ctx context.Context, ai *InProgress, view *clusterview.ClusterView) (done bool, err error) {
	pool, ok := view.GetPoolByName(ai.PoolName)
	if !ok {
		return false, corerr.NewAborted(ai.PoolName, "pool no longer present in osd map", nil)
	}

	if counts := view.PGStateCounts(pool.ID); counts != nil {
		for state := range counts {
			if strings.Contains(state, "repair") || strings.Contains(state, "recovery_toofull") {
				return false, corerr.NewAborted(ai.PoolName, "pg state "+state, nil)
			}
		}
	}

	if ai.Phase == PhaseWaitOSDMap {
		if pool.PGNum != ai.pendingVal {
			log.Debugf("driver: %s waiting for osd map to reflect pg_num=%d", ai.PoolName, ai.pendingVal)
			return false, nil
		}
		ai.Phase = PhaseWaitPGs
	}

	counts := view.PGStateCounts(pool.ID)
	var sum int
	for state, n := range counts {
		sum += n
		if strings.Contains(state, "unknown") || strings.Contains(state, "creating") {
			log.Debugf("driver: %s has pgs in state %s, suspending", ai.PoolName, state)
			return false, nil
		}
	}
	if sum != pool.PGNum {
		log.Debugf("driver: %s pg_summary (%d) lags osd map pg_num (%d), suspending", ai.PoolName, sum, pool.PGNum)
		return false, nil
	}

	next, ok := nextChunkPGNum(pool.PGNum, ai.NewPGNum, ai.ChunkSize)
	if ok {
		acked, err := d.setVar(ctx, ai.PoolName, "pg_num", next)
		if err != nil {
			return false, err
		}
		if !acked {
			// Shutdown interrupted the wait; leave ai untouched so the
			// same step is retried once the adjustment resumes.
			return false, nil
		}
		ai.pendingVal = next
		ai.Phase = PhaseWaitOSDMap
		return false, nil
	}

	if pool.PGPNum != ai.NewPGNum {
		acked, err := d.setVar(ctx, ai.PoolName, "pgp_num", ai.NewPGNum)
		if err != nil {
			return false, err
		}
		if !acked {
			return false, nil
		}
		ai.pendingVal = ai.NewPGNum
		ai.Phase = PhaseWaitOSDMap
		return false, nil
	}

	ai.Phase = PhaseDone
	return true, nil
}

// nextChunkPGNum determines the next pg_num to request, following
// spec.md §4.7 step 5.
func nextChunkPGNum(current, target, chunkSize int) (int, bool) {
	switch {
	case current < target:
		next := current + chunkSize
		if next > target {
			next = target
		}
		return next, true
	case current > target:
		next := current - chunkSize
		if next < target {
			next = target
		}
		return next, true
	default:
		return 0, false
	}
}

// setVar issues an `osd pool set` command and blocks for its ack.
// acked is false only when ctx was cancelled first, in which case the
// caller must not treat the command as having happened.
func (d *Driver) setVar(ctx context.Context, pool, variable string, value int) (acked bool, err error) {
	cmd := d.mgr.SendCommand("mon", "osd pool set", map[string]interface{}{
		"pool": pool,
		"var":  variable,
		"val":  value,
	})
	rc, _, outs, err := cmd.Wait(ctx)
	if err != nil {
		return false, nil
	}
	if rc != 0 {
		return true, corerr.NewCommandFailed("osd pool set", rc, outs)
	}
	return true, nil
}
