// Package pidfile implements the POSIX pidfile convention of spec.md §6:
// a fixed-path file recording "<pid>\n<port>\n" for server discovery by
// other local processes (the tray/CLI collaborators this repository treats
// as out-of-scope contract consumers), with stale-entry purge on startup.
//
// Grounded on the teacher's own single-instance discovery idiom in
// pkg/dmrlet/runtime's PID-based liveness checks, generalized here from a
// container PID to a plain host process PID since this router always
// drives backends as host subprocesses, not containers.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/moby/sys/atomicwriter"
)

// Path returns the fixed pidfile location under cacheDir, per spec.md §6.
func Path(cacheDir string) string {
	return filepath.Join(cacheDir, "lemonade-router.pid")
}

// processAlive reports whether pid refers to a live process, by sending
// the null signal (errno ESRCH means gone, EPERM means alive but owned by
// another user — both handled by os.FindProcess + Signal(0) semantics
// on POSIX).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// PurgeStale removes the pidfile at Path(cacheDir) if it names a pid that
// is no longer alive, per spec.md §6's "stale entries (dead pid) are
// purged on next start". A missing pidfile is not an error.
func PurgeStale(cacheDir string) error {
	path := Path(cacheDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	lines := strings.SplitN(string(data), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || !processAlive(pid) {
		return os.Remove(path)
	}
	return fmt.Errorf("lemonade-router already running with pid %d (pidfile %s)", pid, path)
}

// Write atomically records "<pid>\n<port>\n" at Path(cacheDir).
func Write(cacheDir string, pid, port int) error {
	content := fmt.Sprintf("%d\n%d\n", pid, port)
	return atomicwriter.WriteFile(Path(cacheDir), []byte(content), 0o644)
}

// Remove deletes the pidfile, ignoring a not-exist error; called on clean
// shutdown per spec.md §6.
func Remove(cacheDir string) error {
	err := os.Remove(Path(cacheDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
