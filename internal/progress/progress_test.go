package progress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcsp/pgautoscale/internal/clusterview"
)

func TestRemoteEventUpdateAndComplete(t *testing.T) {
	tr := New()
	ev := NewRemoteEvent("adjustment-uuid", "rbd pg_num from 64 to 128")
	tr.Register(ev)

	tr.Update(ev.ID(), "rbd pg_num from 64 to 128", 0.5)

	events := tr.List()
	require.Len(t, events, 1)
	assert.Equal(t, 0.5, events[0].Progress())

	tr.Complete(ev.ID())
	assert.Empty(t, tr.List())
}

// TestOSDOutTracksRecoveryProgress reproduces spec.md §8 scenario 5:
// osd.12 transitions in=1 -> in=0 while carrying 340 PGs; 180 of them
// reach active+clean with the OSD evacuated from up/acting, so overall
// progress must be at least 180/340.
func TestOSDOutTracksRecoveryProgress(t *testing.T) {
	const total = 340
	const recovered = 180

	prev := &clusterview.OSDMap{OSDs: []clusterview.OSDEntry{{ID: 12, In: 1}}}
	cur := &clusterview.OSDMap{OSDs: []clusterview.OSDEntry{{ID: 12, In: 0}}}

	// The pg_dump current at the transition: every one of the 340 PGs
	// still has osd.12 in up/acting.
	before := clusterview.New(nil)
	before.PGDump.PGStats = make([]clusterview.PGStat, 0, total)
	for i := 0; i < total; i++ {
		before.PGDump.PGStats = append(before.PGDump.PGStats, clusterview.PGStat{
			PGID: fmt.Sprintf("1.%x", i), State: "active+degraded", Up: []int{12, 1, 2}, Acting: []int{12, 1, 2},
		})
	}

	view := clusterview.New(nil)
	view.PGDump.PGStats = make([]clusterview.PGStat, 0, total)
	for i := 0; i < total; i++ {
		pgid := fmt.Sprintf("1.%x", i)
		if i < recovered {
			// Evacuated and clean: osd.12 no longer appears.
			view.PGDump.PGStats = append(view.PGDump.PGStats, clusterview.PGStat{
				PGID: pgid, State: "active+clean", Up: []int{0, 1, 2}, Acting: []int{0, 1, 2},
			})
		} else {
			view.PGDump.PGStats = append(view.PGDump.PGStats, clusterview.PGStat{
				PGID: pgid, State: "active+degraded", Up: []int{12, 1, 2}, Acting: []int{12, 1, 2},
			})
		}
	}

	tr := New()
	tr.ObserveOSDMapTransition(prev, cur, before)

	events := tr.List()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Contains(t, ev.Message(), "osd.12")

	// A later pg_dump in which 180 PGs have reached active+clean with
	// osd.12 evacuated, before any of the still-degraded PGs start
	// reporting recovered bytes.
	tr.ObservePGDump(view)
	progress := tr.List()[0].Progress()
	assert.GreaterOrEqual(t, progress, float64(recovered)/float64(total))
}

func TestOSDOutIgnoredWhenOSDStaysIn(t *testing.T) {
	prev := &clusterview.OSDMap{OSDs: []clusterview.OSDEntry{{ID: 1, In: 1}}}
	cur := &clusterview.OSDMap{OSDs: []clusterview.OSDEntry{{ID: 1, In: 1}}}
	view := clusterview.New(nil)

	tr := New()
	tr.ObserveOSDMapTransition(prev, cur, view)
	assert.Empty(t, tr.List())
}

func TestPgRecoveryEventProgressCreditsPartialRecovery(t *testing.T) {
	ev := &PgRecoveryEvent{
		uuid:              "test",
		pgs:               map[pgRef]bool{{poolID: 1, ps: 0}: true, {poolID: 1, ps: 1}: true},
		originalPGCount:   2,
		originalRecovered: map[pgRef]int64{{poolID: 1, ps: 0}: 0, {poolID: 1, ps: 1}: 0},
	}

	byPGID := map[string]*clusterview.PGStat{
		"1.0": {PGID: "1.0", State: "active+clean", Up: []int{0, 1, 2}, Acting: []int{0, 1, 2}},
		"1.1": {PGID: "1.1", State: "active+degraded", Up: []int{9, 1, 2}, Acting: []int{9, 1, 2},
			StatSum: clusterview.StatSum{NumBytes: 1000, NumBytesRecovered: 500}},
	}
	ev.evacuateOSDs = map[int]bool{9: true}

	updatePgRecoveryEvent(ev, byPGID)

	// pg 1.0 completed (+1), pg 1.1 half-recovered (+0.5).
	assert.Equal(t, 1, ev.completed)
	assert.InDelta(t, 1.5/2, ev.Progress(), 0.001)
}
