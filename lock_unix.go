//go:build unix

package durablemap

import "golang.org/x/sys/unix"

// processAlive reports whether pid names a live process, using the classic
// "signal 0" liveness probe: delivering no actual signal, the kernel still
// performs the permission and existence checks. ESRCH means the process is
// gone; EPERM means it exists but we cannot signal it (still alive); any
// other outcome (nil) also means alive. Adapted from the stale-reader
// reclamation check used by this module's lock-file teacher.
func processAlive(pid int32) bool {
	err := unix.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	return err == unix.EPERM
}
