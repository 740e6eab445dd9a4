package durablemap

// hashOf returns the masked-to-31-bits hash used throughout the table: the
// top bit is reserved so hashCode can use -1 as the free-slot sentinel
// without colliding with any real hash value.
func (m *Map[K, V]) hashOf(key K) int32 {
	return int32(m.hasher.Hash(key) & 0x7FFFFFFF)
}

func (m *Map[K, V]) keyAt(idx int32) K {
	off := entryOffset(idx, m.slotSize) + entryPayloadOff
	return m.keyCodec.Decode(m.entries.data[off : off+m.keySize])
}

func (m *Map[K, V]) valueAt(idx int32) V {
	off := entryOffset(idx, m.slotSize) + entryPayloadOff + m.keySize
	return m.valCodec.Decode(m.entries.data[off : off+m.valSize])
}

func (m *Map[K, V]) setKeyAt(idx int32, key K) {
	off := entryOffset(idx, m.slotSize) + entryPayloadOff
	m.keyCodec.Encode(key, m.entries.data[off:off+m.keySize])
}

func (m *Map[K, V]) setValueAt(idx int32, val V) {
	off := entryOffset(idx, m.slotSize) + entryPayloadOff + m.keySize
	m.valCodec.Encode(val, m.entries.data[off:off+m.valSize])
}

// findEntry walks the chain for h/key across every generation from the
// current one down to 0, per §4.4: older generations are never rehashed, so
// an entry placed before the last Resize is only reachable through the
// bucket modulus that was in effect when it was inserted.
func (m *Map[K, V]) findEntry(h int32, key K) int32 {
	bdata := m.buckets.data
	edata := m.entries.data
	generation := int(loadInt32(bdata, offGeneration))

	for gen := generation; gen >= 0; gen-- {
		numBuckets := primeForGeneration(gen)
		b := uint32(uint32(h) % numBuckets)
		i := bucketHead(bdata, b)
		for i != -1 {
			if entryHashCode(edata, i, m.slotSize) == h && m.hasher.Equal(m.keyAt(i), key) {
				return i
			}
			i = entryNext(edata, i, m.slotSize)
		}
	}
	return -1
}

// Get returns the value stored for key, or ErrNotFound if absent.
func (m *Map[K, V]) Get(key K) (V, error) {
	var zero V
	if isNullKey(key) {
		return zero, wrapf(ErrNullKey, "get")
	}
	if err := m.syncMapping(); err != nil {
		return zero, err
	}

	type result struct {
		v  V
		ok bool
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.hashOf(key)
	r, err := readLockIf(m.core, func() result {
		i := m.findEntry(h, key)
		if i == -1 {
			return result{}
		}
		return result{v: m.valueAt(i), ok: true}
	})
	if err != nil {
		return zero, err
	}
	if !r.ok {
		return zero, ErrNotFound
	}
	return r.v, nil
}

// Index returns the entry slot index for key, or ErrNotFound.
func (m *Map[K, V]) Index(key K) (int32, error) {
	if isNullKey(key) {
		return -1, wrapf(ErrNullKey, "index")
	}
	if err := m.syncMapping(); err != nil {
		return -1, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.hashOf(key)
	i, err := readLockIf(m.core, func() int32 {
		return m.findEntry(h, key)
	})
	if err != nil {
		return -1, err
	}
	if i == -1 {
		return -1, ErrNotFound
	}
	return i, nil
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) (bool, error) {
	_, err := m.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
