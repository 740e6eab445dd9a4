package durablemap

// readRetryThreshold bounds how many times an optimistic reader retries on a
// version/nextVersion mismatch before escalating to a write-lock recovery
// pass. A mismatch this persistent almost always means the prior writer died
// mid-operation and left nextVersion one ahead of version forever, not that a
// live writer is simply fast.
const readRetryThreshold = 100

// readLockIf runs f under the seqlock protocol: snapshot version, run f,
// snapshot nextVersion, and accept the result iff the two match. On
// persistent mismatch it escalates by taking the write lock purely to run
// Recover and repair nextVersion (fixVersions=true doesn't bump version), then
// retries.
func readLockIf[R any](c *core, f func() R) (R, error) {
	data := c.buckets.data
	attempts := 0

	for {
		v1 := loadInt64(data, offVersion)
		result := f()
		v2 := loadInt64(data, offNextVersion)

		if v1 == v2 {
			return result, nil
		}

		attempts++
		if attempts < readRetryThreshold {
			continue
		}

		wl := writeLocker{m: c}
		err := wl.writeLock(true, func(bool) error {
			return c.recover()
		})
		if err != nil {
			var zero R
			return zero, err
		}
		attempts = 0
	}
}
