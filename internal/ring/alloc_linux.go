//go:build linux

package ring

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// backingFD returns a size-byte anonymous file descriptor
// usable as the shared backing for a double mapping. memfd_create
// needs no filesystem path and is unlinked from creation, matching
// the HAS_MEMFD branch of xvm_alloc_ring.
func backingFD(size int) (int, error) {
	fd, err := unix.MemfdCreate("crux-ring", unix.MFD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("ftruncate: %w", err)
	}
	return fd, nil
}

// mapDouble reserves a 2*size address range and maps the same size
// bytes of shared memory into both halves, so any offset within
// [0, size) is valid for reads or writes spanning up to size bytes.
func mapDouble(size int) ([]byte, error) {
	fd, err := backingFD(size)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	reserve, err := unix.Mmap(-1, 0, size*2, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("reserve address space: %w", err)
	}
	base := uintptr(unsafe.Pointer(&reserve[0]))

	if err := mmapFixed(base, fd, size); err != nil {
		_ = unix.Munmap(reserve)
		return nil, err
	}
	if err := mmapFixed(base+uintptr(size), fd, size); err != nil {
		_ = unix.Munmap(reserve)
		return nil, err
	}
	return reserve, nil
}

func mmapFixed(addr uintptr, fd int, size int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(size),
		uintptr(unix.PROT_READ|unix.PROT_WRITE), uintptr(unix.MAP_SHARED|unix.MAP_FIXED),
		uintptr(fd), 0)
	if errno != 0 {
		return fmt.Errorf("mmap fixed: %w", errno)
	}
	return nil
}

func unmapDouble(mem []byte) error {
	return unix.Munmap(mem)
}
