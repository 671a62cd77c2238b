// Package core is the cooperative single-threaded orchestrator
// (spec.md §5): external notifications and the periodic tick arrive as
// messages on a mailbox channel, and a single loop goroutine processes
// them one at a time, which is what lets every other component in
// this module mutate shared state without its own locking.
//
// This replaces the original's implicit "everything runs on the mgr
// dispatch thread" assumption (spec.md §9's "cooperative tick +
// notifications" redesign flag) with an explicit mailbox, the same way
// the teacher's Start(ctx, config) function fans out goroutines that
// all cooperate through ctx.Done() rather than shared locks.
package core

import (
	"context"
	"time"

	"github.com/jcsp/pgautoscale/internal/accountant"
	"github.com/jcsp/pgautoscale/internal/clusterview"
	"github.com/jcsp/pgautoscale/internal/config"
	"github.com/jcsp/pgautoscale/internal/discovery"
	"github.com/jcsp/pgautoscale/internal/driver"
	"github.com/jcsp/pgautoscale/internal/intent"
	"github.com/jcsp/pgautoscale/internal/log"
	"github.com/jcsp/pgautoscale/internal/manager"
	"github.com/jcsp/pgautoscale/internal/poolset"
	"github.com/jcsp/pgautoscale/internal/progress"
	"github.com/jcsp/pgautoscale/internal/scheduler"
)

type mailItem struct {
	fn   func()
	done chan struct{}
}

// Core bundles every component and drives them from the single core
// task.
type Core struct {
	Mgr        manager.Manager
	Cfg        *config.Config
	View       *clusterview.ClusterView
	Registry   *poolset.Registry
	Accountant *accountant.Accountant
	Discovery  *discovery.AutoDiscovery
	Planner    *intent.Planner
	Scheduler  *scheduler.Scheduler
	Driver     *driver.Driver
	Tracker    *progress.Tracker

	mailbox    chan mailItem
	prevOSDMap clusterview.OSDMap
}

// New wires every component from ctx and cfg into a ready Core.
func New(ctx *manager.Context) *Core {
	cfg := ctx.Config
	view := clusterview.New(ctx.Mgr)
	registry := poolset.NewRegistry(ctx.Mgr)
	tracker := progress.New()
	return &Core{
		Mgr:        ctx.Mgr,
		Cfg:        cfg,
		View:       view,
		Registry:   registry,
		Accountant: accountant.New(cfg),
		Discovery:  discovery.New(registry),
		Planner:    intent.New(cfg),
		Scheduler:  scheduler.New(ctx.Mgr, cfg.ChunkSize, tracker),
		Driver:     driver.New(ctx.Mgr),
		Tracker:    tracker,
		mailbox:    make(chan mailItem),
	}
}

// Submit runs fn on the core task and blocks until it has executed,
// the entry point external callers (command handlers) use instead of
// touching Core's fields directly.
func (c *Core) Submit(fn func()) {
	item := mailItem{fn: fn, done: make(chan struct{})}
	c.mailbox <- item
	<-item.done
}

// Run is the mailbox loop: it processes notifications as they arrive
// and ticks on Cfg.Interval, saving the registry after each processed
// message (spec.md §5's "save runs after every notification and
// command handler").
func (c *Core) Run(ctx context.Context) error {
	if err := c.Registry.Load(); err != nil {
		return err
	}

	ticker := time.NewTicker(c.Cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("exit signaled, stop core")
			return nil
		case item := <-c.mailbox:
			item.fn()
			close(item.done)
			c.saveDirty()
		case <-ticker.C:
			c.tick(ctx)
			c.saveDirty()
		}
	}
}

// Resources returns a fresh snapshot of per-subtree resource status,
// computed on the core task so it never races the tick loop. Intended
// for the metrics collector's scrape path.
func (c *Core) Resources() map[string]*accountant.ResourceStatus {
	var out map[string]*accountant.ResourceStatus
	c.Submit(func() {
		out = c.Accountant.Compute(c.View, nil)
	})
	return out
}

// NotifyOSDMap enqueues an osd_map notification (spec.md §6.3).
func (c *Core) NotifyOSDMap(ctx context.Context) {
	c.Submit(func() { c.tick(ctx) })
}

// NotifyFSMap enqueues an fs_map notification.
func (c *Core) NotifyFSMap(ctx context.Context) {
	c.Submit(func() { c.tick(ctx) })
}

// NotifyPGSummary enqueues a pg_summary notification.
func (c *Core) NotifyPGSummary(ctx context.Context) {
	c.Submit(func() { c.tick(ctx) })
}

func (c *Core) saveDirty() {
	if err := c.Registry.Save(); err != nil {
		log.Warnf("registry save failed: %s", err)
	}
}

// tick is the per-wakeup control flow from spec.md §2: refresh the
// view, update progress tracking, run auto-discovery, plan intents,
// and either advance the in-flight adjustment or schedule a new one.
func (c *Core) tick(ctx context.Context) {
	prev := c.prevOSDMap
	if err := c.View.Refresh(); err != nil {
		log.Warnf("cluster view refresh failed: %s", err)
		return
	}

	c.Tracker.ObserveOSDMapTransition(&prev, &c.View.OSDMap, c.View)
	c.Tracker.ObservePGDump(c.View)
	c.prevOSDMap = c.View.OSDMap

	c.Discovery.Run(c.View)

	resources := c.Accountant.Compute(c.View, nil)
	intents := c.Planner.Plan(c.View, c.Registry, resources)

	if active := c.Scheduler.Active(); active != nil {
		done, err := c.Driver.Advance(ctx, active, c.View)
		switch {
		case err != nil:
			log.Warnf("adjustment for %s aborted: %s", active.PoolName, err)
			c.Tracker.Complete(active.UUID)
			c.Scheduler.Clear()
		case done:
			log.Infof("adjustment for %s complete", active.PoolName)
			c.Tracker.Complete(active.UUID)
			c.Scheduler.Clear()
		default:
			if pool, ok := c.View.GetPoolByName(active.PoolName); ok {
				c.Tracker.Update(active.UUID, active.Message(), active.Progress(pool.PGNum))
			}
		}
		return
	}

	c.Scheduler.Schedule(intents, c.Registry)
}
