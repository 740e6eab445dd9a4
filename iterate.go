package durablemap

// Iterator walks the live entries of a Map as of the instant Iterate was
// called. It is fail-fast: if any writer completes a mutation while the
// iterator is in use, the next Next() call returns ErrConcurrentlyModified
// instead of silently observing a torn or inconsistent view.
//
// Per §9's open question on enumerator seqlock-safety: this snapshots only
// `version` once at creation and compares it once per Next() call, rather
// than re-running the full (v1, f, v2) seqlock protocol per step. A writer
// takes the lock for the whole of its mutation and only bumps `version` on
// release, so any completed mutation during iteration is still caught; what
// is not caught is a mutation that is *itself* interrupted by a crash and
// left mid-flight (the iterator would see recoveryFlags state and could read
// a chain pointer consistent with the pre-image thanks to write ordering
// within a mutation, or fail on the next Next() once that writer's crash is
// later recovered and version moves). This is the documented, intentional
// fail-fast contract, not the full per-element seqlock retry loop.
type Iterator[K, V any] struct {
	m        *Map[K, V]
	startVer int64
	bucket   uint32
	numBkts  uint32
	cur      int32
	done     bool
	failed   bool
}

// Iterate returns an Iterator snapshotting the map's current version. Walk it
// with Next until it returns ok == false; check Err afterward for
// ErrConcurrentlyModified.
func (m *Map[K, V]) Iterate() (*Iterator[K, V], error) {
	if err := m.syncMapping(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	generation := int(loadInt32(m.buckets.data, offGeneration))
	it := &Iterator[K, V]{
		m:        m,
		startVer: loadInt64(m.buckets.data, offVersion),
		numBkts:  primeForGeneration(generation),
		cur:      -1,
	}
	it.advanceToNextBucketHead()
	return it, nil
}

// advanceToNextBucketHead walks the current generation's bucket range looking
// for a non-empty chain head. A single pass over [0, numBkts) already visits
// every live entry exactly once: growToGeneration (map.go) only ever extends
// the bucket/entry arrays in place, it never relocates or rehashes an
// existing entry, so every older generation's valid bucket range is a strict
// subset of the current generation's range and is already covered by this
// pass. Walking older generations' ranges again, as a naive reading of
// findEntry's per-generation probe might suggest, would revisit every entry
// that survived a resize once per surviving generation.
func (it *Iterator[K, V]) advanceToNextBucketHead() {
	bdata := it.m.buckets.data
	for it.bucket < it.numBkts {
		head := bucketHead(bdata, it.bucket)
		it.bucket++
		if head != -1 {
			it.cur = head
			return
		}
	}
	it.cur = -1
	it.done = true
}

// Next advances the iterator and reports the next (key, value) pair. It
// returns ok == false once exhausted or once concurrent modification is
// detected; callers must check Err() to distinguish the two.
func (it *Iterator[K, V]) Next() (key K, value V, ok bool) {
	if it.done || it.failed {
		return key, value, false
	}

	if loadInt64(it.m.buckets.data, offVersion) != it.startVer {
		it.failed = true
		it.done = true
		return key, value, false
	}

	if it.cur == -1 {
		it.done = true
		return key, value, false
	}

	key = it.m.keyAt(it.cur)
	value = it.m.valueAt(it.cur)

	next := entryNext(it.m.entries.data, it.cur, it.m.slotSize)
	if next != -1 {
		it.cur = next
	} else {
		it.advanceToNextBucketHead()
	}

	return key, value, true
}

// Err returns ErrConcurrentlyModified if the iterator detected version drift,
// else nil.
func (it *Iterator[K, V]) Err() error {
	if it.failed {
		return ErrConcurrentlyModified
	}
	return nil
}
