package durablemap

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// HeaderInfo is a read-only snapshot of both files' header fields, meant for
// diagnostics rather than correctness-sensitive code. Unlike Count or Get it
// does not take the cross-process write lock or the in-process seqlock: it
// opens the two files with a plain os.Open and decodes the header bytes
// directly, mirroring the teacher pack's own direct-header-read inspector
// tools (cmd/sloty's readCacheConfig). A concurrent writer can make this
// stale the instant after it is read; that's an acceptable tradeoff for a
// command-line inspector.
type HeaderInfo struct {
	Generation    int
	NumBuckets    uint32
	Count         int
	FreeCount     int
	Live          int
	LockPID       int32
	Version       int64
	NextVersion   int64
	RecoveryFlags uint8
}

// InspectHeader reads the header fields of the file pair rooted at path
// without going through Open: each file is read with a plain os.Open, so
// neither is write-locked or mmap'ed. It assumes a little-endian host, matching every platform
// golang.org/x/sys/unix supports for this package's mmap path.
func InspectHeader(path string) (HeaderInfo, error) {
	bdata, err := readHeaderBytes(bucketsPathFor(path))
	if err != nil {
		return HeaderInfo{}, fmt.Errorf("read buckets header: %w", err)
	}
	edata, err := readHeaderBytes(entriesPathFor(path))
	if err != nil {
		return HeaderInfo{}, fmt.Errorf("read entries header: %w", err)
	}

	if m := binary.LittleEndian.Uint32(bdata[offBucketsMagic:]); m != formatMagicBuckets {
		return HeaderInfo{}, fmt.Errorf("%w: bad buckets magic %#x", ErrCorrupt, m)
	}
	if m := binary.LittleEndian.Uint32(edata[offEntriesMagic:]); m != formatMagicEntries {
		return HeaderInfo{}, fmt.Errorf("%w: bad entries magic %#x", ErrCorrupt, m)
	}

	gen := int(int32(binary.LittleEndian.Uint32(bdata[offGeneration:])))
	count := int(int32(binary.LittleEndian.Uint32(bdata[offCount:])))
	freeCount := int(int32(binary.LittleEndian.Uint32(bdata[offFreeCount:])))

	return HeaderInfo{
		Generation:    gen,
		NumBuckets:    primeForGeneration(gen),
		Count:         count,
		FreeCount:     freeCount,
		Live:          count - freeCount,
		LockPID:       int32(binary.LittleEndian.Uint32(bdata[offLockPID:])),
		Version:       int64(binary.LittleEndian.Uint64(bdata[offVersion:])),
		NextVersion:   int64(binary.LittleEndian.Uint64(bdata[offNextVersion:])),
		RecoveryFlags: uint8(binary.LittleEndian.Uint32(edata[offRecoveryFlags:])),
	}, nil
}

func readHeaderBytes(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, HeaderLength)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
