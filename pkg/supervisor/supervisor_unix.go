//go:build !windows

package supervisor

import (
	"fmt"
	"os/exec"
	"syscall"
)

// applyPlatformAttrs puts the child in its own process group so that
// terminateGraceful/killForce can signal the whole subtree at once instead
// of only the direct child. Descendant discovery happens implicitly via the
// process group rather than via an explicit enumeration step, so
// re-parenting to init on the root's exit does not lose any descendant that
// was forked before the group signal is sent.
func applyPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGraceful sends SIGTERM to the child's entire process group.
func terminateGraceful(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// killForce sends SIGKILL to the child's entire process group.
func killForce(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("sending SIGKILL to process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}
