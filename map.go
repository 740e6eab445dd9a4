package durablemap

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// core holds every byte-level mechanism that does not depend on the key/value
// types: the two mapped regions, the write-lock and seqlock protocols, the
// recovery engine, and the generation/slot-size bookkeeping they all share.
// Map[K, V] embeds core and layers the generic, typed surface (Get/Set/Remove)
// on top of it. The split exists so the lock/seqlock/recovery code - which is
// the bulk of the journaled logic and the part most worth getting right - is
// ordinary, non-generic Go instead of being instantiated once per [K, V] pair.
type core struct {
	mu sync.RWMutex

	buckets *region
	entries *region

	bucketsPath string
	entriesPath string

	pid    int32
	logger *zap.Logger
	crash  CrashPoint

	keySize  int
	valSize  int
	slotSize int // entryPayloadOff + keySize + valSize

	mappedGeneration int32 // atomic; generation as of this process's last remap
}

// Map is a persistent, crash-consistent hash map from K to V backed by a pair
// of memory-mapped files. Keys and values are fixed-width, encoded by the
// supplied Codec implementations; keyHasher supplies both the hash function
// and the equality test used to resolve collisions.
//
// A *Map is safe for concurrent use by multiple goroutines in one process
// (core.mu serialises them) and by multiple operating-system processes that
// Open the same file pair (the write-lock/seqlock protocol in lock.go and
// seqlock.go serialises those).
type Map[K, V any] struct {
	*core
	keyCodec Codec[K]
	valCodec Codec[V]
	hasher   KeyHasher[K]
}

// Open opens or creates a durable map at the two files "path-buckets" and
// "path-entries", using the supplied codecs and hasher.
func Open[K, V any](path string, keyCodec Codec[K], valCodec Codec[V], hasher KeyHasher[K], opts ...Option) (*Map[K, V], error) {
	cfg := newConfig(opts)

	keySize := keyCodec.Size()
	valSize := valCodec.Size()
	slotSize := entryPayloadOff + keySize + valSize

	c := &core{
		bucketsPath: bucketsPathFor(path),
		entriesPath: entriesPathFor(path),
		pid:         cfg.pid,
		logger:      cfg.logger,
		crash:       cfg.crash,
		keySize:     keySize,
		valSize:     valSize,
		slotSize:    slotSize,
	}

	if err := c.openAndInitialize(cfg.capacity); err != nil {
		return nil, err
	}

	return &Map[K, V]{core: c, keyCodec: keyCodec, valCodec: valCodec, hasher: hasher}, nil
}

// bucketsPathFor and entriesPathFor derive the two file paths from the base
// path P passed to Open, per §6: "P-buckets" and "P-entries".
func bucketsPathFor(base string) string { return base + "-buckets" }
func entriesPathFor(base string) string { return base + "-entries" }

// OpenBytes opens a map with []byte keys and values of the given fixed sizes,
// matching the teacher's Open(path, keySize, valueSize) call shape.
func OpenBytes(path string, keySize, valueSize uint32, opts ...Option) (*Map[[]byte, []byte], error) {
	return Open[[]byte, []byte](path, FixedBytesCodec{N: int(keySize)}, FixedBytesCodec{N: int(valueSize)}, BytesHasher{}, opts...)
}

// OpenUint64 opens a map with uint64 keys, which get the dedicated FNV-1a
// fast-path hasher (see hasher.go) instead of the general-purpose xxhash one.
func OpenUint64[V any](path string, valCodec Codec[V], opts ...Option) (*Map[uint64, V], error) {
	return Open[uint64, V](path, Uint64Codec{}, valCodec, Uint64Hasher{}, opts...)
}

func (c *core) openAndInitialize(requestedCapacity uint32) error {
	bucketsNew, err := fileIsEmpty(c.bucketsPath)
	if err != nil {
		return err
	}

	c.buckets, err = openRegion(c.bucketsPath, HeaderLength)
	if err != nil {
		return fmt.Errorf("open buckets file: %w", err)
	}
	c.entries, err = openRegion(c.entriesPath, HeaderLength)
	if err != nil {
		c.buckets.close()
		return fmt.Errorf("open entries file: %w", err)
	}

	if bucketsNew {
		if err := c.initializeFresh(requestedCapacity); err != nil {
			return err
		}
	} else {
		if err := c.validateExisting(); err != nil {
			return err
		}
		if err := c.growToCapacity(requestedCapacity); err != nil {
			return err
		}
	}

	atomic.StoreInt32(&c.mappedGeneration, loadInt32(c.buckets.data, offGeneration))
	return nil
}

func fileIsEmpty(path string) (bool, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Size() == 0, nil
}

// initializeFresh lays out a brand-new header pair sized for requestedCapacity
// and stamps the magic/format-version fields that validateExisting checks on
// every subsequent Open.
func (c *core) initializeFresh(requestedCapacity uint32) error {
	if requestedCapacity == 0 {
		requestedCapacity = 1
	}
	gen := generationFor(requestedCapacity)
	numBuckets := primeForGeneration(gen)

	if err := c.buckets.grow(HeaderLength + int(numBuckets)*4); err != nil {
		return fmt.Errorf("grow buckets: %w", err)
	}
	if err := c.entries.grow(HeaderLength + int(numBuckets)*c.slotSize); err != nil {
		return fmt.Errorf("grow entries: %w", err)
	}

	bdata := c.buckets.data
	storeInt32(bdata, offGeneration, int32(gen))
	storeUint32(bdata, offBucketsMagic, formatMagicBuckets)
	storeUint32(bdata, offBucketsVersionF, currentFormatVersion)
	// count, freeList (+1 bias means stored 0 == empty), freeCount, lock_pid,
	// version and nextVersion are all correctly zero from the fresh truncate.

	edata := c.entries.data
	storeUint32(edata, offEntriesMagic, formatMagicEntries)
	storeUint32(edata, offEntriesVersionF, currentFormatVersion)

	return nil
}

func (c *core) validateExisting() error {
	bdata := c.buckets.data
	if len(bdata) < HeaderLength {
		return fmt.Errorf("%w: buckets file shorter than header", ErrCorrupt)
	}
	if m := loadUint32(bdata, offBucketsMagic); m != formatMagicBuckets {
		return fmt.Errorf("%w: bad buckets magic %#x", ErrCorrupt, m)
	}
	if v := loadUint32(bdata, offBucketsVersionF); v != currentFormatVersion {
		return fmt.Errorf("%w: unsupported buckets format version %d", ErrCorrupt, v)
	}

	edata := c.entries.data
	if len(edata) < HeaderLength {
		return fmt.Errorf("%w: entries file shorter than header", ErrCorrupt)
	}
	if m := loadUint32(edata, offEntriesMagic); m != formatMagicEntries {
		return fmt.Errorf("%w: bad entries magic %#x", ErrCorrupt, m)
	}
	if v := loadUint32(edata, offEntriesVersionF); v != currentFormatVersion {
		return fmt.Errorf("%w: unsupported entries format version %d", ErrCorrupt, v)
	}

	if flags := loadInt32(edata, offRecoveryFlags); flags != 0 {
		// Recover under the write lock (stolen from the dead holder), so that
		// releasing it resets lock_pid and realigns nextVersion with version.
		wl := writeLocker{m: c}
		return wl.writeLock(true, func(bool) error { return c.recover() })
	}
	return nil
}

// growToCapacity advances the generation (and grows both regions to match) if
// an existing file pair was opened with a larger WithCapacity than it was
// last sized for. It never shrinks.
func (c *core) growToCapacity(requestedCapacity uint32) error {
	if requestedCapacity == 0 {
		return nil
	}
	wanted := generationFor(requestedCapacity)
	current := int(loadInt32(c.buckets.data, offGeneration))
	if wanted <= current {
		return nil
	}
	return c.growToGeneration(wanted)
}

// growToGeneration is the non-rehashing growth step shared by explicit Resize
// calls and the capacity check above: it only ever extends the bucket and
// entry arrays' backing storage, it never moves an existing entry.
func (c *core) growToGeneration(gen int) error {
	numBuckets := primeForGeneration(gen)
	if err := c.buckets.grow(HeaderLength + int(numBuckets)*4); err != nil {
		return fmt.Errorf("grow buckets to generation %d: %w", gen, err)
	}
	if err := c.entries.grow(HeaderLength + int(numBuckets)*c.slotSize); err != nil {
		return fmt.Errorf("grow entries to generation %d: %w", gen, err)
	}
	storeInt32(c.buckets.data, offGeneration, int32(gen))
	atomic.StoreInt32(&c.mappedGeneration, int32(gen))
	return nil
}

// syncMapping re-establishes this process's mapping if a peer process has
// advanced the generation (and therefore grown the files) since this process
// last looked. The header itself never moves or grows past HeaderLength, so
// reading offGeneration is always safe even before any remap.
func (c *core) syncMapping() error {
	gen := loadInt32(c.buckets.data, offGeneration)
	if gen == atomic.LoadInt32(&c.mappedGeneration) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	gen = loadInt32(c.buckets.data, offGeneration)
	if gen == atomic.LoadInt32(&c.mappedGeneration) {
		return nil
	}
	numBuckets := primeForGeneration(int(gen))
	if err := c.buckets.grow(HeaderLength + int(numBuckets)*4); err != nil {
		return fmt.Errorf("remap buckets to generation %d: %w", gen, err)
	}
	if err := c.entries.grow(HeaderLength + int(numBuckets)*c.slotSize); err != nil {
		return fmt.Errorf("remap entries to generation %d: %w", gen, err)
	}
	atomic.StoreInt32(&c.mappedGeneration, gen)
	return nil
}

// numBuckets returns the current bucket-array length for the mapped
// generation.
func (c *core) numBuckets() uint32 {
	return primeForGeneration(int(loadInt32(c.buckets.data, offGeneration)))
}

// Close flushes and unmaps both files. It does not remove them.
func (m *Map[K, V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []string
	if err := m.buckets.close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := m.entries.close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Sync flushes both mapped files to their backing storage. See region.sync.
func (m *Map[K, V]) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.buckets.sync(); err != nil {
		return err
	}
	return m.entries.sync()
}

// Count returns the number of live entries.
func (m *Map[K, V]) Count() (int, error) {
	if err := m.syncMapping(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := readLockIf(m.core, func() int32 {
		return loadInt32(m.buckets.data, offCount) - loadInt32(m.buckets.data, offFreeCount)
	})
	return int(n), err
}
