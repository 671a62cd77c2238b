// Package corerr defines the error kinds named in spec.md §7: an
// adjustment that had to be abandoned mid-flight, a monitor command
// that was refused, and a configuration mistake reported back to the
// command caller. They wrap github.com/pkg/errors so callers get a
// stack trace at the point of failure, the same way Azure-gpu-provisioner
// and the pgremapper example annotate Ceph/cloud-API failures.
package corerr

import (
	"github.com/pkg/errors"
)

// Aborted reports that an in-progress adjustment had to be abandoned:
// its pool disappeared from the OSD map, or its PGs entered an
// unhealthy state (repair, recovery_toofull).
type Aborted struct {
	Pool   string
	Reason string
	cause  error
}

func (e *Aborted) Error() string {
	return "adjustment aborted for pool " + e.Pool + ": " + e.Reason
}

func (e *Aborted) Unwrap() error { return e.cause }

// NewAborted builds an Aborted error, wrapping cause (which may be nil).
func NewAborted(pool, reason string, cause error) *Aborted {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Aborted{Pool: pool, Reason: reason, cause: cause}
}

// CommandFailed reports that the monitor refused a command issued by
// the driver or command handlers (non-zero return code).
type CommandFailed struct {
	Prefix string
	Code   int
	Detail string
}

func (e *CommandFailed) Error() string {
	return errors.Errorf("command %q failed with code %d: %s", e.Prefix, e.Code, e.Detail).Error()
}

// NewCommandFailed builds a CommandFailed error.
func NewCommandFailed(prefix string, code int, detail string) *CommandFailed {
	return &CommandFailed{Prefix: prefix, Code: code, Detail: detail}
}

// Configuration reports an invalid command from the CLI surface: an
// unknown application, an unparsable size string, or a poolset name
// colliding with a different application. Command handlers translate
// these into an exit code and message; they never mutate state.
type Configuration struct {
	msg string
}

func (e *Configuration) Error() string { return e.msg }

// NewConfiguration builds a Configuration error.
func NewConfiguration(format string, args ...interface{}) *Configuration {
	return &Configuration{msg: errors.Errorf(format, args...).Error()}
}
