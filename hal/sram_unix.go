//go:build unix

package hal

import (
	"golang.org/x/sys/unix"
)

func mapMemory(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error {
		return unix.Munmap(mem)
	}, nil
}
