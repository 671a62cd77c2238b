// Package manager defines the boundary between this module's core and
// its external collaborator: the cluster manager that owns the command
// transport to monitors, the CRUSH map implementation, and the
// persisted key-value store. Per spec.md §1 these are out of scope to
// implement; this package only states the interfaces the core needs
// from them, replacing the teacher's implicit global plugin instance
// (spec.md §9's first redesign flag) with a context object that is
// constructed once and handed to every component explicitly.
package manager

import "context"

// Blob names pulled from the manager each refresh (spec.md §4.1).
const (
	BlobOSDMap      = "osd_map"
	BlobOSDMapTree  = "osd_map_tree"
	BlobOSDMapCrush = "osd_map_crush"
	BlobMDSMap      = "mds_map"
	BlobPGDump      = "pg_dump"
	BlobDF          = "df"
	BlobPGSummary   = "pg_summary"
)

// Manager is the facade the core holds onto the cluster manager
// process. Every method is a snapshot read or a fire-and-forget/future
// write; nothing here blocks beyond what Command.Wait does explicitly.
type Manager interface {
	// Get returns the named opaque blob (see Blob* constants), as raw
	// JSON. Values are snapshot-consistent within one refresh, never
	// across refreshes.
	Get(name string) ([]byte, error)

	// SendCommand issues prefix/args as a command to the given target
	// ("mon"), returning a Command handle the caller can Wait on.
	SendCommand(target string, prefix string, args map[string]interface{}) *Command

	// SetHealthChecks replaces the named health checks this module
	// owns. Passing an empty map clears every check this module has
	// ever set.
	SetHealthChecks(checks map[string]HealthCheck)

	// GetConfigJSON reads a persisted key, returning (nil, nil) if it
	// does not exist.
	GetConfigJSON(key string) ([]byte, error)

	// SetConfigJSON writes a persisted key.
	SetConfigJSON(key string, value []byte) error
}

// HealthCheck is a single named cluster health condition this module
// can raise, such as MGR_POOLSETS_TOO_FEW_PGS (spec.md §4.6).
type HealthCheck struct {
	Severity string   `json:"severity"`
	Summary  string   `json:"summary"`
	Detail   []string `json:"detail"`
}

// Command is a future/promise handle over a command issued to the
// monitors (spec.md §9's "callback-shaped command completion"
// redesign flag). The manager completes it by calling Complete once
// the command's result is known; callers Wait for it, cooperating
// with context cancellation (shutdown) rather than blocking forever.
type Command struct {
	done chan struct{}
	rc   int
	outb string
	outs string
}

// NewCommand constructs a pending Command. Only the manager
// implementation should call this.
func NewCommand() *Command {
	return &Command{done: make(chan struct{})}
}

// Complete marks the command finished with the given result. Safe to
// call exactly once; a second call panics, mirroring a programming
// error in the transport rather than a recoverable runtime condition.
func (c *Command) Complete(rc int, outb, outs string) {
	c.rc, c.outb, c.outs = rc, outb, outs
	close(c.done)
}

// Wait blocks until the command completes or ctx is done. Returning
// early on ctx cancellation lets the driver's blocking command-issue
// step (spec.md §5) be interrupted by shutdown without holding any
// lock the notification path needs.
func (c *Command) Wait(ctx context.Context) (rc int, outb string, outs string, err error) {
	select {
	case <-c.done:
		return c.rc, c.outb, c.outs, nil
	case <-ctx.Done():
		return 0, "", "", ctx.Err()
	}
}
