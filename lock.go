package durablemap

import (
	"os"
	"runtime"
)

// spinThreshold is the number of failed CAS attempts before a contender checks
// whether the current lock holder is still alive. Matches the "~100 spin
// iterations" budget from the design: low enough that a live, fast writer
// isn't penalised, high enough that transient contention doesn't immediately
// escalate into an orphan-detection syscall.
const spinThreshold = 100

// defaultPID is cached once at process start, mirroring the teacher pack's
// own cached-PID pattern (Giulio2002-gdbx's cachedPID) to avoid a getpid(2)
// syscall on every lock attempt. Individual *core instances may override this
// (see withSimulatedPID in options.go) to let a single test process model two
// distinct writers contending for the same file pair.
var defaultPID = int32(os.Getpid())

// writeLocker drives the cross-process lock protocol over the buckets file's
// lock_pid/version/nextVersion header slots.
type writeLocker struct {
	m *core
}

// writeLock runs body under the cross-process write lock. recovering passed
// to body is true iff this acquisition stole the lock from a dead holder, in
// which case body is expected to call Recover before doing anything else.
//
// fixVersions selects the release discipline used by the seqlock escalation
// path (seqlock.go): when true, release does not bump version, it only
// repairs nextVersion to match it, so plain readers that merely observed an
// orphaned writer converge without a spurious version bump.
func (wl *writeLocker) writeLock(fixVersions bool, body func(recovering bool) error) error {
	data := wl.m.buckets.data
	pid := wl.m.pid
	spins := 0

	for {
		if casInt32(data, offLockPID, 0, pid) {
			return wl.enterAndRelease(data, false, fixVersions, body)
		}

		spins++
		if spins < spinThreshold {
			runtime.Gosched()
			continue
		}

		holder := loadInt32(data, offLockPID)
		if holder == 0 {
			spins = 0
			continue
		}

		alive := holder != pid && processAlive(holder)
		if alive {
			return ErrLockHeld
		}

		// Either the holder PID is our own (a reentrant-orphan state only
		// reachable via fault injection, see crashpoint.go) or the OS reports
		// it gone: steal the lock.
		if casInt32(data, offLockPID, holder, pid) {
			wl.m.logInfo("stole orphaned write lock", "holder_pid", holder, "self_pid", pid)
			return wl.enterAndRelease(data, true, fixVersions, body)
		}

		// Someone else stole it first (or released it); re-arm and retry.
		spins = 0
	}
}

func (wl *writeLocker) enterAndRelease(data []byte, recovering, fixVersions bool, body func(bool) error) error {
	if !fixVersions {
		addInt64(data, offNextVersion, 1)
	}

	bodyErr := body(recovering)
	// body may have resized, which remaps the buckets file.
	data = wl.m.buckets.data

	if !casInt32(data, offLockPID, wl.m.pid, 0) {
		// Another process observed us as dead and stole the lock while body
		// ran. Nothing further can be trusted; fail fast per §4.2 step 3.
		wl.m.logWarn("write lock stolen mid-operation", "self_pid", wl.m.pid)
		return ErrFatal
	}

	if fixVersions {
		v := loadInt64(data, offVersion)
		storeInt64(data, offNextVersion, v)
	} else {
		addInt64(data, offVersion, 1)
	}

	return bodyErr
}
