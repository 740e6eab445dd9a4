// Package durablemap_bench provides scale testing for the persistent hash
// implementation.
//
// This file measures the recovery engine's cost: how expensive is it to
// reopen a file pair left dirty by a crashed writer, compared to a clean
// reopen? §4.5's decision tree is a fixed handful of field copies per flag,
// so this should stay cheap regardless of map size.
package durablemap_bench

import (
	"path/filepath"
	"testing"

	"github.com/theflywheel/durablemap"
)

// crashedFilePair creates a file pair left dirty with the given recovery
// flag by arming a ScenarioCrasher, provoking a panic mid-mutation, and
// recovering from the panic without running any of the normal deferred
// lock-release/unmap cleanup - modeling a process that was actually killed.
func crashedFilePair(b *testing.B, scenario int, dirty func(m *durablemap.Map[uint64, uint64]) error) string {
	b.Helper()
	base := filepath.Join(b.TempDir(), "recovery_bench")
	crasher := &durablemap.ScenarioCrasher{}

	m, err := durablemap.OpenUint64[uint64](base, durablemap.Uint64Codec{}, durablemap.WithCrashPoint(crasher))
	if err != nil {
		b.Fatalf("open: %v", err)
	}

	crasher.Arm(scenario)
	func() {
		defer func() { _ = recover() }()
		_ = dirty(m)
	}()
	// The simulated crash only skips the write-lock release and version
	// bump inside the panicking call; closing the file descriptors and
	// unmapping here (unlike a real process death) just avoids leaking OS
	// resources across b.N iterations and does not touch recoveryFlags.
	_ = m.Close()

	return base
}

// BenchmarkRecoverAfterRemoveCrash measures reopening a file pair crashed
// mid-Remove (scenario 73, concrete scenario 4 from §8) against reopening a
// clean one, isolating the recovery engine's own cost from ordinary Open.
func BenchmarkRecoverAfterRemoveCrash(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		base := crashedFilePair(b, 73, func(m *durablemap.Map[uint64, uint64]) error {
			if err := m.Add(uint64(1), uint64(1)); err != nil {
				return err
			}
			if err := m.Add(uint64(2), uint64(2)); err != nil {
				return err
			}
			_, err := m.Remove(uint64(1))
			return err
		})
		b.StartTimer()

		m, err := durablemap.OpenUint64[uint64](base, durablemap.Uint64Codec{})
		if err != nil {
			b.Fatalf("reopen (recovery pass): %v", err)
		}
		b.StopTimer()
		m.Close()
		b.StartTimer()
	}
}

// BenchmarkReopenClean is the baseline this package's recovery benchmarks
// compare against: a file pair with recoveryFlags == 0, so Open's
// validateExisting takes the fast path and never calls recover.
func BenchmarkReopenClean(b *testing.B) {
	base := filepath.Join(b.TempDir(), "clean_reopen_bench")
	m, err := durablemap.OpenUint64[uint64](base, durablemap.Uint64Codec{})
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	if err := m.Add(uint64(1), uint64(1)); err != nil {
		b.Fatalf("add: %v", err)
	}
	if err := m.Close(); err != nil {
		b.Fatalf("close: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m, err := durablemap.OpenUint64[uint64](base, durablemap.Uint64Codec{})
		if err != nil {
			b.Fatalf("reopen: %v", err)
		}
		b.StopTimer()
		m.Close()
		b.StartTimer()
	}
}
