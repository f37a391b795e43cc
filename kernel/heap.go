package kernel

import (
	"encoding/binary"
	"fmt"
)

const (
	heapAlign    = 8
	blockHeader  = 8
	minBlockSize = blockHeader * 2
	allocatedBit = uint32(1) << 31
	nilBlock     = ^uint32(0)
)

// Heap is a first-fit allocator with coalescing of adjacent free blocks.
// Block headers live in the managed memory itself: a size word with the
// allocated bit and a next-free word.
type Heap struct {
	mem         []byte
	freeHead    uint32
	free        int
	minEverFree int
	allocs      int
	frees       int
}

type HeapStats struct {
	Size          int
	Free          int
	MinEverFree   int
	LargestFree   int
	FreeBlocks    int
	Allocations   int
	Deallocations int
}

func NewHeap(mem []byte) *Heap {
	size := len(mem) &^ (heapAlign - 1)
	h := &Heap{
		mem:         mem[:size],
		freeHead:    0,
		free:        size,
		minEverFree: size,
	}
	h.setSize(0, uint32(size))
	h.setNext(0, nilBlock)
	return h
}

func (h *Heap) size(b uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[b:])
}

func (h *Heap) setSize(b, size uint32) {
	binary.LittleEndian.PutUint32(h.mem[b:], size)
}

func (h *Heap) next(b uint32) uint32 {
	return binary.LittleEndian.Uint32(h.mem[b+4:])
}

func (h *Heap) setNext(b, next uint32) {
	binary.LittleEndian.PutUint32(h.mem[b+4:], next)
}

// Alloc returns the offset of n usable bytes.
func (h *Heap) Alloc(n int) (int, error) {
	if n <= 0 || n > len(h.mem) {
		return 0, fmt.Errorf("%w: request of %d bytes", ErrOutOfMemory, n)
	}
	want := uint32((n + blockHeader + heapAlign - 1) &^ (heapAlign - 1))
	if want < minBlockSize {
		want = minBlockSize
	}

	prev := nilBlock
	for cur := h.freeHead; cur != nilBlock; prev, cur = cur, h.next(cur) {
		size := h.size(cur)
		if size < want {
			continue
		}

		next := h.next(cur)
		if size-want >= minBlockSize {
			// Split off the tail as a new free block
			split := cur + want
			h.setSize(split, size-want)
			h.setNext(split, next)
			next = split
			size = want
		}
		if prev == nilBlock {
			h.freeHead = next
		} else {
			h.setNext(prev, next)
		}

		h.setSize(cur, size|allocatedBit)
		h.setNext(cur, nilBlock)
		h.free -= int(size)
		if h.free < h.minEverFree {
			h.minEverFree = h.free
		}
		h.allocs++
		return int(cur + blockHeader), nil
	}
	return 0, fmt.Errorf("%w: request of %d bytes, %d free", ErrOutOfMemory, n, h.free)
}

// Free returns the block at off to the heap.
func (h *Heap) Free(off int) error {
	if off < blockHeader || off >= len(h.mem) || (off-blockHeader)%heapAlign != 0 {
		return ErrInvalidFree
	}
	b := uint32(off - blockHeader)
	size := h.size(b)
	if size&allocatedBit == 0 {
		return ErrInvalidFree
	}
	size &^= allocatedBit
	h.setSize(b, size)
	h.free += int(size)
	h.frees++

	// Insert in address order
	prev := nilBlock
	cur := h.freeHead
	for cur != nilBlock && cur < b {
		prev, cur = cur, h.next(cur)
	}

	// Merge with the following block
	if cur != nilBlock && b+size == cur {
		size += h.size(cur)
		h.setSize(b, size)
		h.setNext(b, h.next(cur))
	} else {
		h.setNext(b, cur)
	}

	// Merge with the preceding block
	if prev != nilBlock && prev+h.size(prev) == b {
		h.setSize(prev, h.size(prev)+size)
		h.setNext(prev, h.next(b))
	} else if prev != nilBlock {
		h.setNext(prev, b)
	} else {
		h.freeHead = b
	}
	return nil
}

// Bytes is the usable window of the block at off.
func (h *Heap) Bytes(off int) []byte {
	size := int(h.size(uint32(off-blockHeader))&^allocatedBit) - blockHeader
	return h.mem[off : off+size : off+size]
}

func (h *Heap) Stats() HeapStats {
	s := HeapStats{
		Size:          len(h.mem),
		Free:          h.free,
		MinEverFree:   h.minEverFree,
		Allocations:   h.allocs,
		Deallocations: h.frees,
	}
	for cur := h.freeHead; cur != nilBlock; cur = h.next(cur) {
		s.FreeBlocks++
		if size := int(h.size(cur)); size > s.LargestFree {
			s.LargestFree = size
		}
	}
	return s
}
