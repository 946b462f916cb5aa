// Package quarantine invokes an external helper binary to suspend and
// release processes, per spec §4.7's quarantine adapter contract.
//
// The detection logic never touches process state directly: it shells out
// to a separate, typically privileged, helper executable — ransomwarden
// itself performs no suspend/resume syscalls. This mirrors the original
// prototype's QuarantineController, which called a C++ helper binary via
// a subprocess rather than manipulating processes from the agent.
package quarantine

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds how long the external helper is given to act
// before the controller treats the attempt as failed.
const DefaultTimeout = 5 * time.Second

// Controller invokes the external quarantine helper.
type Controller struct {
	helperPath string
	timeout    time.Duration
	log        *zap.Logger
}

// NewController creates a Controller. timeout <= 0 defaults to DefaultTimeout.
func NewController(helperPath string, timeout time.Duration, log *zap.Logger) *Controller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Controller{helperPath: helperPath, timeout: timeout, log: log}
}

// Error wraps a failed helper invocation, carrying the helper's stderr.
type Error struct {
	Action    string
	ProcessID uint32
	Stderr    string
	Cause     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("quarantine %s pid=%d: %v: %s", e.Action, e.ProcessID, e.Cause, e.Stderr)
}

func (e *Error) Unwrap() error { return e.Cause }

// Suspend invokes "<helper> --suspend <pid>". Exit code 0 is success; any
// other outcome (non-zero exit, timeout, launch failure) returns a
// *Error carrying the helper's stderr.
func (c *Controller) Suspend(ctx context.Context, pid uint32) error {
	return c.run(ctx, "suspend", "--suspend", pid)
}

// Release invokes "<helper> --release <pid>", undoing a prior Suspend.
func (c *Controller) Release(ctx context.Context, pid uint32) error {
	return c.run(ctx, "release", "--release", pid)
}

func (c *Controller) run(ctx context.Context, action, flag string, pid uint32) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.helperPath, flag, strconv.FormatUint(uint64(pid), 10))
	out, err := cmd.CombinedOutput()
	if err != nil {
		qerr := &Error{Action: action, ProcessID: pid, Stderr: string(out), Cause: err}
		if c.log != nil {
			c.log.Error("quarantine helper failed",
				zap.String("action", action),
				zap.Uint32("pid", pid),
				zap.Error(err),
				zap.ByteString("output", out))
		}
		return qerr
	}

	if c.log != nil {
		c.log.Info("quarantine action succeeded",
			zap.String("action", action),
			zap.Uint32("pid", pid))
	}
	return nil
}
