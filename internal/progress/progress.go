// Package progress implements ProgressTracker (spec.md §4.8): it
// registers events — local pg_num adjustments reported by the driver,
// and PG-recovery events induced by OSDs going out — and renders their
// fractional completion from PG dumps.
//
// The polymorphic Event hierarchy the original used is re-architected
// here as a tagged variant (spec.md §9): Event is a closed interface
// with exactly two implementations, PgRecoveryEvent and RemoteEvent,
// each owning its own update input.
package progress

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jcsp/pgautoscale/internal/clusterview"
)

// Event is the tagged variant covering both kinds this tracker owns.
type Event interface {
	ID() string
	Message() string
	Progress() float64
}

type pgRef struct {
	poolID int
	ps     int
}

func (r pgRef) pgid() string { return fmt.Sprintf("%d.%x", r.poolID, r.ps) }

func parsePGID(pgid string) (pgRef, bool) {
	parts := strings.SplitN(pgid, ".", 2)
	if len(parts) != 2 {
		return pgRef{}, false
	}
	poolID, err := strconv.Atoi(parts[0])
	if err != nil {
		return pgRef{}, false
	}
	ps, err := strconv.ParseInt(parts[1], 16, 64)
	if err != nil {
		return pgRef{}, false
	}
	return pgRef{poolID: poolID, ps: int(ps)}, true
}

// PgRecoveryEvent tracks OSD-out-induced PG recovery, its progress
// derived solely from pg_dump rather than supplied by an external
// updater.
type PgRecoveryEvent struct {
	uuid              string
	message           string
	startedAt         time.Time
	evacuateOSDs      map[int]bool
	pgs               map[pgRef]bool
	originalPGCount   int
	originalRecovered map[pgRef]int64
	completed         int
	fractionalSum     float64
}

func (e *PgRecoveryEvent) ID() string      { return e.uuid }
func (e *PgRecoveryEvent) Message() string { return e.message }

// Progress implements spec.md §4.8's formula: (completed +
// fractional_sum) / original_pg_count.
func (e *PgRecoveryEvent) Progress() float64 {
	if e.originalPGCount == 0 {
		return 1
	}
	return (float64(e.completed) + e.fractionalSum) / float64(e.originalPGCount)
}

// RemoteEvent carries progress supplied by an external updater (the
// driver, for pg_num adjustments) rather than derived locally.
type RemoteEvent struct {
	uuid     string
	message  string
	progress float64
}

func (e *RemoteEvent) ID() string       { return e.uuid }
func (e *RemoteEvent) Message() string  { return e.message }
func (e *RemoteEvent) Progress() float64 { return e.progress }

// NewRemoteEvent builds a RemoteEvent for a driver-driven adjustment,
// keyed to id (the owning AdjustmentInProgress's uuid) so the caller
// can Update/Complete it by that same id as the adjustment advances.
func NewRemoteEvent(id, message string) *RemoteEvent {
	return &RemoteEvent{uuid: id, message: message}
}

// Tracker owns every Event, keyed by uuid.
type Tracker struct {
	mu     sync.Mutex
	events map[string]Event
	pg     map[string]*PgRecoveryEvent
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{
		events: make(map[string]Event),
		pg:     make(map[string]*PgRecoveryEvent),
	}
}

// Register adds ev to the tracker.
func (t *Tracker) Register(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[ev.ID()] = ev
	if pg, ok := ev.(*PgRecoveryEvent); ok {
		t.pg[ev.ID()] = pg
	}
}

// Update reports progress for a RemoteEvent.
func (t *Tracker) Update(evID, message string, progressVal float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ev, ok := t.events[evID].(*RemoteEvent)
	if !ok {
		return
	}
	ev.message = message
	ev.progress = progressVal
}

// Complete removes an event, regardless of kind.
func (t *Tracker) Complete(evID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.events, evID)
	delete(t.pg, evID)
}

// List returns every tracked event.
func (t *Tracker) List() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, 0, len(t.events))
	for _, ev := range t.events {
		out = append(out, ev)
	}
	return out
}

// ObserveOSDMapTransition compares the previous and current OSD maps;
// for every OSD whose `in` weight fell to zero, it registers a
// PgRecoveryEvent carrying every PG that had that OSD in its up or
// acting set, read from the current pg_dump.
func (t *Tracker) ObserveOSDMapTransition(prev, cur *clusterview.OSDMap, view *clusterview.ClusterView) {
	prevIn := make(map[int]float64, len(prev.OSDs))
	for _, osd := range prev.OSDs {
		prevIn[osd.ID] = osd.In
	}

	for _, osd := range cur.OSDs {
		if osd.In != 0 {
			continue
		}
		if before, ok := prevIn[osd.ID]; !ok || before == 0 {
			continue
		}
		t.registerOSDOutEvent(osd.ID, view)
	}
}

func (t *Tracker) registerOSDOutEvent(osdID int, view *clusterview.ClusterView) {
	pgs := make(map[pgRef]bool)
	recovered := make(map[pgRef]int64)
	for _, pg := range view.PGDump.PGStats {
		if !containsOSD(pg.Up, osdID) && !containsOSD(pg.Acting, osdID) {
			continue
		}
		ref, ok := parsePGID(pg.PGID)
		if !ok {
			continue
		}
		pgs[ref] = true
		recovered[ref] = pg.StatSum.NumBytesRecovered
	}
	if len(pgs) == 0 {
		return
	}

	ev := &PgRecoveryEvent{
		uuid:              uuid.NewString(),
		message:           fmt.Sprintf("Rebalancing after osd.%d marked out", osdID),
		startedAt:         time.Now(),
		evacuateOSDs:      map[int]bool{osdID: true},
		pgs:               pgs,
		originalPGCount:   len(pgs),
		originalRecovered: recovered,
	}
	t.Register(ev)
}

func containsOSD(osds []int, id int) bool {
	for _, o := range osds {
		if o == id {
			return true
		}
	}
	return false
}

// ObservePGDump updates every tracked PgRecoveryEvent from the latest
// pg_dump, following spec.md §4.8's completion and fractional-progress
// rules.
func (t *Tracker) ObservePGDump(view *clusterview.ClusterView) {
	t.mu.Lock()
	events := make([]*PgRecoveryEvent, 0, len(t.pg))
	for _, ev := range t.pg {
		events = append(events, ev)
	}
	t.mu.Unlock()

	byPGID := make(map[string]*clusterview.PGStat, len(view.PGDump.PGStats))
	for i := range view.PGDump.PGStats {
		byPGID[view.PGDump.PGStats[i].PGID] = &view.PGDump.PGStats[i]
	}

	for _, ev := range events {
		t.mu.Lock()
		updatePgRecoveryEvent(ev, byPGID)
		t.mu.Unlock()
	}
}

func updatePgRecoveryEvent(ev *PgRecoveryEvent, byPGID map[string]*clusterview.PGStat) {
	var fractional float64

	for ref := range ev.pgs {
		stat, ok := byPGID[ref.pgid()]
		if !ok {
			continue
		}

		if _, seen := ev.originalRecovered[ref]; !seen {
			ev.originalRecovered[ref] = stat.StatSum.NumBytesRecovered
		}

		if strings.Contains(stat.State, "active") && strings.Contains(stat.State, "clean") && !anyEvacuated(stat.Up, stat.Acting, ev.evacuateOSDs) {
			delete(ev.pgs, ref)
			delete(ev.originalRecovered, ref)
			ev.completed++
			continue
		}

		if stat.StatSum.NumBytes <= 0 {
			continue
		}
		ratio := float64(stat.StatSum.NumBytesRecovered-ev.originalRecovered[ref]) / float64(stat.StatSum.NumBytes)
		if ratio < 0 {
			ratio = 0
		}
		if ratio > 1 {
			ratio = 1
		}
		fractional += ratio
	}

	ev.fractionalSum = fractional
}

func anyEvacuated(up, acting []int, evac map[int]bool) bool {
	for _, o := range up {
		if evac[o] {
			return true
		}
	}
	for _, o := range acting {
		if evac[o] {
			return true
		}
	}
	return false
}
