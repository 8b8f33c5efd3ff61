//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"

	winjob "github.com/kolesnikovae/go-winjob"
)

// jobs tracks the Job Object assigned to each child so terminateGraceful and
// killForce can reach the whole descendant tree, since Windows has no
// process-group signal equivalent to POSIX's negative-pid kill.
var jobs = map[int]*winjob.Job{}

// applyPlatformAttrs creates a Job Object for the child and configures it to
// kill all its members when the job handle is closed, mirroring the
// teacher's go.mod replace of kolesnikovae/go-winjob to docker/go-winjob.
func applyPlatformAttrs(cmd *exec.Cmd) {
	job, err := winjob.Create("", winjob.WithKillOnJobClose())
	if err != nil {
		return
	}
	cmd.SysProcAttr = job.CreationFlags()
	jobRegisterOnStart(cmd, job)
}

func jobRegisterOnStart(cmd *exec.Cmd, job *winjob.Job) {
	origCancel := cmd.Cancel
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			_ = job.Assign(cmd.Process)
			jobs[cmd.Process.Pid] = job
		}
		if origCancel != nil {
			return origCancel()
		}
		return nil
	}
}

// terminateGraceful asks every process in the child's job to exit. Windows
// backend engines are expected to honor console-control events; job
// termination is reserved for the force-kill step below.
func terminateGraceful(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(nil); err != nil {
		return fmt.Errorf("signaling process %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// killForce terminates the child's entire Job Object, which kills every
// descendant process in one call.
func killForce(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	job, ok := jobs[cmd.Process.Pid]
	if !ok {
		return cmd.Process.Kill()
	}
	return job.Terminate(1)
}
