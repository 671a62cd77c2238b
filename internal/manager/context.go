package manager

import "github.com/jcsp/pgautoscale/internal/config"

// Context bundles everything a component needs at construction time:
// the manager collaborator and the tunables. core.New takes a *Context
// explicitly and hands its Mgr and Config to each component it builds,
// instead of those components reaching for process-wide state
// (spec.md §9's first redesign flag).
type Context struct {
	Mgr    Manager
	Config *config.Config
}

// NewContext builds a Context from a Manager and Config.
func NewContext(mgr Manager, cfg *config.Config) *Context {
	return &Context{Mgr: mgr, Config: cfg}
}
