// Package config holds the process-wide immutable values the source
// exposes as globals: the page size used to round mmap requests, and
// a random seed used to mix hash functions. Both are initialized once
// on first use; nothing here is mutated afterward, so no lock is
// needed past init.
package config

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

var once sync.Once
var pageSize int
var seed uint64

func initGlobals() {
	pageSize = unix.Getpagesize()
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable on any
		// supported platform; fall back to a fixed, documented seed
		// rather than leaving hash mixing undefined.
		seed = 0x9e3779b97f4a7c15
		return
	}
	seed = binary.LittleEndian.Uint64(buf[:])
}

// PageSize returns the OS page size, used to round ring buffer and
// task stack mmap requests.
func PageSize() int {
	once.Do(initGlobals)
	return pageSize
}

// RoundPage rounds n up to the next multiple of PageSize().
func RoundPage(n int) int {
	p := PageSize()
	if rem := n % p; rem != 0 {
		n += p - rem
	}
	return n
}

// Seed returns the process-wide hash mixing seed.
func Seed() uint64 {
	once.Do(initGlobals)
	return seed
}
