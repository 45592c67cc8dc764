package rhmap

import "sync"

// primeBelow returns the largest prime <= size, used as the tier's
// probe-start modulus (a companion prime just below the power-of-two
// length). Tier sizes are always powers of two chosen by tierSize, so
// results are cached rather than recomputed on every tier allocation.
var (
	primeCacheMu sync.Mutex
	primeCache   = map[uint64]uint64{}
)

func primeBelow(size uint64) uint64 {
	primeCacheMu.Lock()
	defer primeCacheMu.Unlock()
	if p, ok := primeCache[size]; ok {
		return p
	}
	n := size
	if n%2 == 0 && n > 2 {
		n--
	}
	for n > 1 && !isPrime(n) {
		n -= 2
	}
	if n < 2 {
		n = 2
	}
	primeCache[size] = n
	return n
}

func isPrime(n uint64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint64(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}
