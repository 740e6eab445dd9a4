package durablemap

import "fmt"

// Set inserts key/value or, if key is already present, updates its value in
// place. See §4.4 Insert: Phase A walks every generation's chains looking for
// an existing match; Phase B is only reached on a miss.
func (m *Map[K, V]) Set(key K, value V) error {
	return m.insert(key, value, false)
}

// Add inserts key/value, failing with ErrDuplicateKey if key is already
// present. Unlike Set, it never overwrites.
func (m *Map[K, V]) Add(key K, value V) error {
	return m.insert(key, value, true)
}

func (m *Map[K, V]) insert(key K, value V, addOnly bool) error {
	if isNullKey(key) {
		return wrapf(ErrNullKey, "insert")
	}
	if err := m.syncMapping(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hashOf(key)
	wl := writeLocker{m: m.core}
	return wl.writeLock(false, func(recovering bool) error {
		if recovering {
			if err := m.recover(); err != nil {
				return err
			}
		}

		existing := m.findEntry(h, key)
		if existing != -1 {
			if addOnly {
				return ErrDuplicateKey
			}
			return m.insertUpdate(existing, value)
		}
		return m.insertNew(h, key, value)
	})
}

// insertUpdate is Insert's Phase A update branch (§4.4): the {key,value}
// pre-image at idx is shadow-copied into a snapshot slot before the value is
// overwritten, so a crash between the shadow write and the flag clear can be
// rolled back by recovery bit 1 (recovery.go, updateSnapshotSlot).
func (m *Map[K, V]) insertUpdate(idx int32, value V) error {
	bdata := m.buckets.data
	edata := m.entries.data

	m.crash.Trigger(scenarioInsertUpdateBeforeCopy)

	// With no free slot the snapshot goes to slot count, which lies past the
	// mapped entries array once count has reached the bucket count.
	if loadInt32(bdata, offFreeCount) == 0 && uint32(loadInt32(bdata, offCount)) == m.numBuckets() {
		if err := m.resize(); err != nil {
			return fmt.Errorf("resize during update: %w", err)
		}
		edata = m.entries.data
	}

	s := m.updateSnapshotSlot()
	srcOff := entryOffset(idx, m.slotSize) + entryPayloadOff
	dstOff := entryOffset(s, m.slotSize) + entryPayloadOff
	n := m.slotSize - entryPayloadOff
	copy(edata[dstOff:dstOff+n], edata[srcOff:srcOff+n])

	storeInt32(edata, offIndexCopy, idx)
	setFlag(edata, flagInsertUpdateSnapshot)

	m.crash.Trigger(scenarioInsertUpdateAfterFlagBeforeWrite)

	m.setValueAt(idx, value)

	m.crash.Trigger(scenarioInsertUpdateAfterWriteBeforeClear)

	clearFlag(edata, flagInsertUpdateSnapshot)
	_ = bdata
	return nil
}

// insertNew is Insert's Phase B new-entry branch (§4.4). It first reserves a
// slot - reusing the free list if one exists, else growing count (resizing
// the backing files first if the generation's bucket array is full) - then
// splices the new entry onto the head of its target bucket's chain.
func (m *Map[K, V]) insertNew(h int32, key K, value V) error {
	bdata := m.buckets.data
	edata := m.entries.data

	var index int32
	if loadInt32(bdata, offFreeCount) > 0 {
		m.crash.Trigger(scenarioInsertFreelistBeforeShadow)

		freeList := loadUint32(bdata, offFreeList)
		freeCount := loadInt32(bdata, offFreeCount)
		storeUint32(edata, offFreeListCopy, freeList)
		storeInt32(edata, offFreeCountCopy, freeCount)
		setFlag(edata, flagInsertFreelistReserve)

		m.crash.Trigger(scenarioInsertFreelistAfterFlagBeforeMove)

		index = biasedToLogical(freeList)
		next := entryNext(edata, index, m.slotSize)
		storeUint32(bdata, offFreeList, logicalToBiased(next))
		storeInt32(bdata, offFreeCount, freeCount-1)

		m.crash.Trigger(scenarioInsertFreelistAfterMoveBeforeB4)

		if err := m.insertSpliceBucket(h, index, key, value, true); err != nil {
			return err
		}

		m.crash.Trigger(scenarioInsertFreelistAfterBktBeforeClear)
		clearFlag(edata, flagInsertFreelistReserve|flagInsertBucketLink)
		return nil
	}

	m.crash.Trigger(scenarioInsertCountBeforeResizeCheck)

	generation := int(loadInt32(bdata, offGeneration))
	count := loadInt32(bdata, offCount)
	if uint32(count) == primeForGeneration(generation) {
		m.crash.Trigger(scenarioInsertCountDuringResize)
		if err := m.resize(); err != nil {
			return fmt.Errorf("resize during insert: %w", err)
		}
		// resize remaps both regions; the slices taken above are stale.
		bdata = m.buckets.data
		edata = m.entries.data
	}

	m.crash.Trigger(scenarioInsertCountAfterResizeBeforeB3)

	storeInt32(edata, offCountCopy, count)
	setFlag(edata, flagInsertCountReserve)
	index = count

	m.crash.Trigger(scenarioInsertCountAfterB3BeforeIncr)

	storeInt32(bdata, offCount, count+1)

	m.crash.Trigger(scenarioInsertCountAfterIncrBeforeB4)

	if err := m.insertSpliceBucket(h, index, key, value, false); err != nil {
		return err
	}

	clearFlag(edata, flagInsertCountReserve|flagInsertBucketLink)
	return nil
}

// insertSpliceBucket is the shared tail of both Phase B sub-paths (§4.4 steps
// 4-6): shadow the target bucket's current head under bit 4, write the new
// entry record and splice it onto the chain. Bit 4 stays set: the caller
// clears it together with its own reservation bit (2 or 3), so recovery never
// sees a linked entry whose slot reservation it would roll back. fromFreelist
// only changes which scenario numbers bracket each step.
func (m *Map[K, V]) insertSpliceBucket(h int32, index int32, key K, value V, fromFreelist bool) error {
	bdata := m.buckets.data
	edata := m.entries.data

	generation := loadInt32(bdata, offGeneration)
	numBuckets := primeForGeneration(int(generation))
	targetBucket := uint32(h) % numBuckets
	oldHead := bucketHead(bdata, targetBucket)

	storeInt32(edata, offBucketOrLastNextCopy, int32(targetBucket))
	storeInt32(edata, offIndexCopy, oldHead)
	setFlag(edata, flagInsertBucketLink)

	if fromFreelist {
		m.crash.Trigger(scenarioInsertFreelistAfterB4BeforeEntry)
	} else {
		m.crash.Trigger(scenarioInsertSharedB4BeforeEntry)
	}

	setEntryHashCode(edata, index, m.slotSize, h)
	setEntryNext(edata, index, m.slotSize, oldHead)
	m.setKeyAt(index, key)
	m.setValueAt(index, value)

	if fromFreelist {
		m.crash.Trigger(scenarioInsertFreelistAfterEntryBeforeBkt)
	} else {
		m.crash.Trigger(scenarioInsertSharedB4AfterEntry)
	}

	setBucketHead(bdata, targetBucket, index)

	if !fromFreelist {
		m.crash.Trigger(scenarioInsertSharedB4AfterBucket)
		m.crash.Trigger(scenarioInsertSharedB4BeforeClear)
	}

	return nil
}

// Remove deletes key if present and reports whether it was found. Unlike the
// teacher pattern's ICollection<KVP>.Remove (§9 Design Notes), this returns
// the true outcome rather than unconditionally reporting false after a
// successful removal.
func (m *Map[K, V]) Remove(key K) (bool, error) {
	if isNullKey(key) {
		return false, wrapf(ErrNullKey, "remove")
	}
	if err := m.syncMapping(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hashOf(key)
	wl := writeLocker{m: m.core}
	var removed bool
	err := wl.writeLock(false, func(recovering bool) error {
		if recovering {
			if err := m.recover(); err != nil {
				return err
			}
		}

		i, last, bucketIdx, ok := m.findEntryWithPredecessor(h, key)
		if !ok {
			removed = false
			return nil
		}
		removed = true
		return m.removeAt(i, last, bucketIdx)
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// findEntryWithPredecessor mirrors findEntry but additionally returns the
// predecessor index within the matched generation's chain (-1 if the match is
// the chain head) and the bucket index that chain hangs off of, both of which
// Remove's unlink phase needs.
func (m *Map[K, V]) findEntryWithPredecessor(h int32, key K) (idx, last int32, bucketIdx uint32, ok bool) {
	bdata := m.buckets.data
	edata := m.entries.data
	generation := int(loadInt32(bdata, offGeneration))

	for gen := generation; gen >= 0; gen-- {
		numBuckets := primeForGeneration(gen)
		b := uint32(uint32(h) % numBuckets)
		prev := int32(-1)
		i := bucketHead(bdata, b)
		for i != -1 {
			if entryHashCode(edata, i, m.slotSize) == h && m.hasher.Equal(m.keyAt(i), key) {
				return i, prev, b, true
			}
			prev = i
			i = entryNext(edata, i, m.slotSize)
		}
	}
	return -1, -1, 0, false
}

// removeAt implements §4.4 Remove: an unlink phase (bits 5/6 depending on
// whether the match is the chain head) followed by a free-list phase (bit 7)
// that recycles the slot without clearing its {key,value} bytes - recovery
// bit 7 depends on them still being present to reconstitute the entry.
func (m *Map[K, V]) removeAt(i, last int32, bucketIdx uint32) error {
	bdata := m.buckets.data
	edata := m.entries.data

	if last == -1 {
		m.crash.Trigger(scenarioRemoveUnlinkHeadBeforeShadow)

		oldHead := bucketHead(bdata, bucketIdx)
		storeInt32(edata, offBucketOrLastNextCopy, int32(bucketIdx))
		storeInt32(edata, offIndexCopy, oldHead)
		setFlag(edata, flagRemoveUnlinkHead)

		m.crash.Trigger(scenarioRemoveUnlinkHeadAfterShadow)

		next := entryNext(edata, i, m.slotSize)
		setBucketHead(bdata, bucketIdx, next)
	} else {
		m.crash.Trigger(scenarioRemoveUnlinkPredecessor)

		oldNext := entryNext(edata, last, m.slotSize)
		storeInt32(edata, offIndexCopy, last)
		storeInt32(edata, offBucketOrLastNextCopy, oldNext)
		setFlag(edata, flagRemoveUnlinkPred)

		next := entryNext(edata, i, m.slotSize)
		setEntryNext(edata, last, m.slotSize, next)
	}

	m.crash.Trigger(scenarioRemoveFreelistBeforeShadow)

	freeList := loadUint32(bdata, offFreeList)
	freeCount := loadInt32(bdata, offFreeCount)
	storeInt32(edata, offCountCopy, i)
	storeUint32(edata, offFreeListCopy, freeList)
	storeInt32(edata, offFreeCountCopy, freeCount)
	off := entryOffset(i, m.slotSize)
	copy(edata[offScratch:offScratch+8], edata[off:off+8])
	setFlag(edata, flagRemoveFreelistSplice)

	m.crash.Trigger(scenarioRemoveFreelistAfterB7)

	setEntryHashCode(edata, i, m.slotSize, -1)

	m.crash.Trigger(scenarioRemoveFreelistAfterHashWipe)

	setEntryNext(edata, i, m.slotSize, biasedToLogical(freeList))

	m.crash.Trigger(scenarioRemoveFreelistAfterNextRewrite)

	storeUint32(bdata, offFreeList, logicalToBiased(i))
	storeInt32(bdata, offFreeCount, freeCount+1)

	m.crash.Trigger(scenarioRemoveFreelistAfterListSplice)

	clearFlag(edata, flagRemoveFreelistSplice|flagRemoveUnlinkHead|flagRemoveUnlinkPred)
	return nil
}

// Clear removes all entries, resetting count, freeCount and freeList. It does
// not shrink the bucket/entry arrays or reset generation.
func (m *Map[K, V]) Clear() error {
	if err := m.syncMapping(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wl := writeLocker{m: m.core}
	return wl.writeLock(false, func(recovering bool) error {
		if recovering {
			if err := m.recover(); err != nil {
				return err
			}
		}
		return m.runClear()
	})
}

// runClear performs the actual clear, shared between Map.Clear and recovery
// bit 8 (which just re-runs it - it is naturally idempotent since it derives
// every write from count and the generation's bucket count, never from the
// current freeList/freeCount state).
func (c *core) runClear() error {
	bdata := c.buckets.data
	edata := c.entries.data

	// Clear has no fault-injection scenario number in the test matrix (§8):
	// the forward path below is short enough, and bit 8's recovery action is
	// simply re-running it, that interrupting it mid-flight converges the
	// same way whether or not a hook is planted here.
	setFlag(edata, flagClear)

	count := loadInt32(bdata, offCount)
	numBuckets := c.numBuckets()
	for b := uint32(0); b < numBuckets; b++ {
		setBucketHead(bdata, b, -1)
	}
	for i := int32(0); i < count; i++ {
		off := entryOffset(i, c.slotSize)
		for j := 0; j < c.slotSize; j++ {
			edata[off+j] = 0
		}
		setEntryHashCode(edata, i, c.slotSize, -1)
	}

	storeUint32(bdata, offFreeList, logicalToBiased(-1))
	storeInt32(bdata, offCount, 0)
	storeInt32(bdata, offFreeCount, 0)

	clearFlag(edata, flagClear)
	return nil
}

// resize advances the generation by one and grows both mapped regions to
// match, per §4.4 Resize. Existing entries are never rehashed: they stay
// reachable through the probe-across-generations loop in findEntry.
func (c *core) resize() error {
	current := int(loadInt32(c.buckets.data, offGeneration))
	next := current + 1
	if err := c.growToGeneration(next); err != nil {
		return err
	}
	c.logInfo("resized", "generation", next, "buckets", primeForGeneration(next))
	return nil
}
