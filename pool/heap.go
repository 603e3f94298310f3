// Package pool implements Component A, the pool allocator (§4.A): a
// region-id-to-heap map, a first-fit/coalescing heap over a byte buffer
// (volatile) or an mmap'd file (persistent), and the epoch-safe
// delayed-free workers that reclaim freed offsets without racing a
// concurrent reader.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package pool

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// Heap is the allocator's view of one region's bytes (§3 Heap).
// Minimum object size and minimum region size are allocator constants
// (cmn.MinObjSize, cmn.MinRegionSize); Heap itself works in raw offsets
// and does not enforce them — Allocator does, at the boundary.
type Heap interface {
	AllocOffset(size uint64) (uint64, error)
	Free(offset, size uint64)
	Merge()
	Resize(newSize uint64) error
	OffsetToLocalPtr(offset uint64) ([]byte, error)
	IsOpen() bool
	Open() error
	Close() error
	Size() uint64
}

type freeBlock struct {
	offset uint64
	size   uint64
}

// memHeap is a first-fit allocator with explicit (not automatic) merge,
// matching §4.A's "attempts alloc_offset. On failure, calls merge() and
// retries once" contract: fragmentation is allowed to accumulate between
// explicit merges rather than being eagerly coalesced on every free.
type memHeap struct {
	mu    sync.Mutex
	buf   []byte
	free  []freeBlock // sorted by offset, disjoint
	open  bool
	mmapd bool             // true if buf backs an mmap'd persistent file
	file  *PersistentFile // set iff mmapd, so Resize can remap it
}

// NewVolatileHeap creates a heap entirely in Go-managed memory.
func NewVolatileHeap(size uint64) *memHeap {
	return &memHeap{
		buf:  make([]byte, size),
		free: []freeBlock{{offset: 0, size: size}},
		open: true,
	}
}

// NewPersistentHeap creates (or reopens) a heap backed by an mmap'd file
// under famPath, named by regionID, so a PERSISTENT-type region's bytes
// survive a server restart (§6 Persisted state).
func NewPersistentHeap(file *PersistentFile, size uint64) (*memHeap, error) {
	buf, err := file.MapAtLeast(size)
	if err != nil {
		return nil, err
	}
	h := &memHeap{buf: buf, open: true, mmapd: true, file: file}
	if file.Fresh {
		h.free = []freeBlock{{offset: 0, size: size}}
	} else {
		// Reopen of an existing backing file: the spec does not define an
		// on-disk free-list recovery format (only the backup byte layout,
		// §4.H, is specified); a reopened persistent heap therefore starts
		// with no tracked free space beyond growth past its prior high
		// offset, and relies on the caller (pool.Allocator) to have kept
		// its own region metadata authoritative. This is the same
		// "no recovery protocol after an ungraceful crash" limitation
		// §9 documents for the ATL queue.
		h.free = nil
		if size > file.PriorSize {
			h.free = []freeBlock{{offset: file.PriorSize, size: size - file.PriorSize}}
		}
	}
	return h, nil
}

func (h *memHeap) Size() uint64 { return uint64(len(h.buf)) }

func (h *memHeap) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

func (h *memHeap) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = true
	return nil
}

func (h *memHeap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.open {
		return nil
	}
	h.open = false
	if h.mmapd {
		buf := h.buf
		h.buf = nil
		return unix.Munmap(buf)
	}
	return nil
}

func (h *memHeap) AllocOffset(size uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, blk := range h.free {
		if blk.size < size {
			continue
		}
		offset := blk.offset
		if blk.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = freeBlock{offset: blk.offset + size, size: blk.size - size}
		}
		return offset, nil
	}
	return 0, errors.New("heap: no fitting free block")
}

// Free returns [offset, offset+size) to the free list, sorted by offset.
// It does not coalesce with neighbors — that's Merge()'s job.
func (h *memHeap) Free(offset, size uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].offset >= offset })
	h.free = append(h.free, freeBlock{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = freeBlock{offset: offset, size: size}
}

func (h *memHeap) Merge() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.free) < 2 {
		return
	}
	merged := h.free[:1]
	for _, blk := range h.free[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.size == blk.offset {
			last.size += blk.size
		} else {
			merged = append(merged, blk)
		}
	}
	h.free = merged
}

// Resize grows the heap in place. A volatile heap grows its backing Go
// slice; a persistent heap instead remaps its backing file so the grown
// bytes stay mmap'd (and therefore still page cache, per §6) rather than
// silently detaching into unmapped, non-persistent memory.
func (h *memHeap) Resize(newSize uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur := uint64(len(h.buf))
	if newSize <= cur {
		return errors.New("heap: shrink not supported")
	}
	if h.mmapd {
		old := h.buf
		grown, err := h.file.MapAtLeast(newSize)
		if err != nil {
			return err
		}
		if err := unix.Munmap(old); err != nil {
			unix.Munmap(grown)
			return errors.Wrap(err, "pool: unmap prior backing file")
		}
		h.buf = grown
	} else {
		grown := make([]byte, newSize)
		copy(grown, h.buf)
		h.buf = grown
	}
	h.free = append(h.free, freeBlock{offset: cur, size: newSize - cur})
	return nil
}

func (h *memHeap) OffsetToLocalPtr(offset uint64) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offset >= uint64(len(h.buf)) {
		return nil, cmn.NewError(cmn.OutOfRange, "heap: offset %d out of range [0,%d)", offset, len(h.buf))
	}
	return h.buf[offset:], nil
}
