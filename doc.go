/*
Package durablemap provides a persistent, crash-consistent hash table backed by two
memory-mapped files.

Map is designed to be a high-performance key-value store that persists data to disk
while maintaining fast in-memory access speeds. It uses memory mapping to provide
direct access to the data without copying it into user space. Unlike a plain
mmap-backed table, every mutating step is journaled into fixed header slots so that a
process killed mid-operation - or one that leaves the cross-process write lock
orphaned - can be recovered by the next process that attaches to the files.

Basic usage:

	import "github.com/theflywheel/durablemap"

	// Open or create a persistent map with 8-byte keys and values.
	m, err := durablemap.OpenBytes("data", 8, 8)
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	key := make([]byte, 8)
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(key, 12345)
	binary.BigEndian.PutUint64(value, 67890)
	err = m.Set(key, value)

	result, err := m.Get(key)
	if err == nil {
		val := binary.BigEndian.Uint64(result)
		fmt.Println("Value:", val)
	}

Features:

  - Fixed-size keys and values, encoded through a pluggable [Codec]
  - Memory-mapped file storage for persistence and fast access
  - Thread-safe within a process (RWMutex) and safe across processes (PID lock)
  - Generational growth: buckets never move, so growth never races a reader
  - Crash-consistent mutation: every step is shadow-copied before it is applied, so a
    process killed mid-mutation leaves a recoverable, never partially-applied state
  - Lock-free optimistic reads via a seqlock-style version pair

Implementation details:

Each map is backed by a pair of files, "<path>-buckets" and "<path>-entries". The
buckets file holds a biased bucket-head array plus the write-lock/version header; the
entries file holds the chained entry records plus a recovery-flag bitfield and the
shadow copies of any field a mutation is about to touch. See SPEC_FULL.md for the full
on-disk layout and the recovery decision tree.
*/
package durablemap
