package durablemap

import "sync"

// primeTable is the classic prime growth table used by hash tables that chain
// entries: each step is drawn to keep load factor reasonable until it roughly
// doubles. generation is simply an index into this table. The map never
// "rehashes" across a resize - see resize in mutate.go - it only extends the table and
// starts routing new insertions through the new modulus, so the exact values
// chosen here only affect how often Resize triggers, never correctness.
var primeTable = []uint32{
	3, 7, 11, 17, 23, 29, 37, 47, 59, 71, 89, 107, 131, 163, 197, 239, 293, 353,
	431, 521, 631, 761, 919, 1103, 1327, 1597, 1931, 2333, 2801, 3371, 4049, 4861,
	5839, 7013, 8419, 10103, 12143, 14591, 17519, 21023, 25229, 30293, 36353,
	43627, 52361, 62851, 75431, 90523, 108631, 130363, 156437, 187751, 225307,
	270371, 324449, 389357, 467237, 560689, 672827, 807403, 968897, 1162687,
	1395263, 1674319, 2009191, 2411033, 2893249, 3471899, 4166287, 4999559,
	5999471, 7199369,
}

var (
	primeMu        sync.Mutex
	primeExtension = append([]uint32(nil), primeTable...)
)

// isPrime reports whether n is prime using trial division. Only used to extend
// primeExtension past the end of the built-in table, which happens only for
// capacities beyond ~7.2M entries.
func isPrime(n uint32) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint32(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// nextPrimeAtLeast returns the smallest prime >= n.
func nextPrimeAtLeast(n uint32) uint32 {
	if n <= 2 {
		return 2
	}
	if n%2 == 0 {
		n++
	}
	for !isPrime(n) {
		n += 2
	}
	return n
}

// primeForGeneration returns primes[g], extending primeExtension on demand by
// doubling-and-rounding-up-to-prime past the built-in table (mirrors the
// classic ExpandPrime behaviour for capacities beyond the static table).
func primeForGeneration(g int) uint32 {
	primeMu.Lock()
	defer primeMu.Unlock()

	for len(primeExtension) <= g {
		last := primeExtension[len(primeExtension)-1]
		primeExtension = append(primeExtension, nextPrimeAtLeast(last*2))
	}
	return primeExtension[g]
}

// generationFor returns the smallest generation g such that primeForGeneration(g)
// >= capacity. Mirrors HashHelpers.GetGenerationFor from the classic chained
// hash-table design this map's on-disk layout is modelled on.
func generationFor(capacity uint32) int {
	if capacity < 1 {
		capacity = 1
	}
	g := 0
	for primeForGeneration(g) < capacity {
		g++
	}
	return g
}
