package hal

import (
	"errors"
)

var ErrStaticExhausted = errors.New("static region exhausted")

// SRAM is the on-chip memory. The first StaticSize bytes are handed out by a
// bump allocator for statically placed objects (DMA buffers); the rest is
// the kernel heap region.
type SRAM struct {
	mem        []byte
	staticSize int
	staticNext int
	release    func() error
}

func newSRAM(size, staticSize int) (*SRAM, error) {
	if staticSize > size {
		return nil, errors.New("static region larger than SRAM")
	}
	mem, release, err := mapMemory(size)
	if err != nil {
		return nil, err
	}
	return &SRAM{
		mem:        mem,
		staticSize: staticSize,
		release:    release,
	}, nil
}

func (s *SRAM) Size() int {
	return len(s.mem)
}

// Static reserves n bytes, 4-byte aligned, from the static region.
func (s *SRAM) Static(n int) ([]byte, error) {
	start := (s.staticNext + 3) &^ 3
	if start+n > s.staticSize {
		return nil, ErrStaticExhausted
	}
	s.staticNext = start + n
	return s.mem[start : start+n : start+n], nil
}

// HeapRegion returns the memory after the static region.
func (s *SRAM) HeapRegion() []byte {
	return s.mem[s.staticSize:]
}

func (s *SRAM) Close() error {
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	s.mem = nil
	return release()
}
