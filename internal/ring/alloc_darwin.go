//go:build darwin

package ring

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// backingFD returns a shared anonymous-file descriptor usable as the
// backing for a double mapping. Darwin has no memfd_create, so this
// follows the HAS_SHM_OPEN/mkostemp fallback branch of xvm_alloc_ring:
// create a uniquely-named temp file, unlink it immediately, and keep
// the descriptor open.
func backingFD(size int) (int, error) {
	f, err := os.CreateTemp("", "crux-ring-*")
	if err != nil {
		return -1, fmt.Errorf("create temp backing file: %w", err)
	}
	name := f.Name()
	_ = os.Remove(name)

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return -1, fmt.Errorf("truncate backing file: %w", err)
	}
	return int(f.Fd()), nil
}

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
