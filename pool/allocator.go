package pool

import (
	"sync"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/metrics"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// entry is the HeapMap's own bookkeeping for a region, independent of
// (but consistent with) any delayed-free shard record for the same
// region_id — the HeapMap is exclusively owned by the allocator (§3
// Ownership).
type entry struct {
	heap       Heap
	memoryType cmn.MemoryType
	file       *PersistentFile // nil for volatile heaps
}

// Allocator is Component A (§4.A): maps region ids to heaps, serializes
// the map itself behind one short-critical-section mutex (§5), and runs
// num_delayed_free_threads delayed-free workers sharded by region_id.
type Allocator struct {
	famPath string
	metrics *metrics.Registry

	mapMu sync.Mutex // "Heap map: Single mutex (short critical sections)" (§5)
	heaps map[uint64]*entry

	shards []*shard

	atlMu         sync.Mutex
	atlRootOffset uint64
	atlRootSet    bool
}

// NewAllocator constructs an Allocator with numDelayedFreeThreads
// delayed-free workers (started immediately, mirroring the teacher's
// constructor symmetry with Close) and famPath as the backing directory
// for persistent-memory-type regions.
func NewAllocator(numDelayedFreeThreads int, famPath string, reg *metrics.Registry) *Allocator {
	a := &Allocator{
		famPath: famPath,
		metrics: reg,
		heaps:   make(map[uint64]*entry),
	}
	for i := 0; i < numDelayedFreeThreads; i++ {
		sh := newShard(i, reg)
		a.shards = append(a.shards, sh)
		go sh.run()
	}
	return a
}

// Close stops every delayed-free worker. Heaps already created are left
// as-is; callers should DestroyRegion each region first if they want a
// clean teardown.
func (a *Allocator) Close() {
	for _, sh := range a.shards {
		sh.stop()
	}
}

func (a *Allocator) hasDelayedFree() bool { return len(a.shards) > 0 }

func (a *Allocator) shardFor(regionID uint64) *shard {
	if len(a.shards) == 0 {
		return nil
	}
	return a.shards[shardIndex(regionID, len(a.shards))]
}

// CreateRegion rounds size up to MinRegionSize, creates a heap (mmap'd if
// memType is Persistent), opens it, and inserts it into the heap map
// (§4.A create_region). On any failure after heap creation the heap is
// destroyed and the map entry rolled back.
func (a *Allocator) CreateRegion(regionID uint64, size uint64, memType cmn.MemoryType) (err error) {
	if regionID > uint64(cmn.RegionMask) {
		return cmn.NewCodedError(cmn.Resource, cmn.NoFreePoolID, "region id %d exceeds 16-bit pool id space", regionID)
	}
	size = cmn.RoundUp(size, cmn.MinRegionSize)

	a.mapMu.Lock()
	if _, exists := a.heaps[regionID]; exists {
		a.mapMu.Unlock()
		return cmn.NewError(cmn.AlreadyExists, "region %d already exists", regionID)
	}
	a.mapMu.Unlock()

	var h Heap
	var pf *PersistentFile
	if memType == cmn.MemoryPersistent {
		pf, err = OpenPersistentFile(a.famPath, regionID)
		if err != nil {
			return cmn.Wrap(err, cmn.Resource, "HEAP_NOT_CREATED: region %d", regionID)
		}
		mh, err := NewPersistentHeap(pf, size)
		if err != nil {
			pf.Close()
			return cmn.Wrap(err, cmn.Resource, "HEAP_NOT_CREATED: region %d", regionID)
		}
		h = mh
	} else {
		h = NewVolatileHeap(size)
	}
	if err := h.Open(); err != nil {
		h.Close()
		if pf != nil {
			pf.Close()
		}
		return cmn.NewCodedError(cmn.Resource, cmn.HeapNotOpened, "region %d: %v", regionID, err)
	}

	a.mapMu.Lock()
	if _, exists := a.heaps[regionID]; exists {
		a.mapMu.Unlock()
		h.Close()
		return cmn.NewError(cmn.AlreadyExists, "region %d already exists", regionID)
	}
	a.heaps[regionID] = &entry{heap: h, memoryType: memType, file: pf}
	a.mapMu.Unlock()

	if sh := a.shardFor(regionID); sh != nil {
		sh.insert(regionID, h)
	}
	xlog.V(3).Infof("pool: created region %d (%d bytes, memType=%v)", regionID, size, memType)
	return nil
}

// DestroyRegion removes the map entry, invalidates the region's
// delayed-free record under its write lock, closes and destroys the heap
// (§4.A destroy_region). Idempotent against a missing map entry; heap
// destruction is attempted regardless.
func (a *Allocator) DestroyRegion(regionID uint64) error {
	a.mapMu.Lock()
	e, ok := a.heaps[regionID]
	delete(a.heaps, regionID)
	a.mapMu.Unlock()

	if sh := a.shardFor(regionID); sh != nil {
		sh.invalidate(regionID)
	}

	if !ok {
		return nil
	}
	if err := e.heap.Close(); err != nil {
		xlog.Errorf("pool: closing heap for region %d: %v", regionID, err)
	}
	if e.file != nil {
		e.file.Close()
	}
	return nil
}

// ResizeRegion opens the heap if needed and calls its Resize (§4.A
// resize_region).
func (a *Allocator) ResizeRegion(regionID, newSize uint64) error {
	e, err := a.lookup(regionID)
	if err != nil {
		return err
	}
	if !e.heap.IsOpen() {
		if err := e.heap.Open(); err != nil {
			return cmn.NewCodedError(cmn.Resource, cmn.HeapNotOpened, "region %d: %v", regionID, err)
		}
	}
	if err := e.heap.Resize(newSize); err != nil {
		return cmn.Wrap(err, cmn.Resource, "resize region %d to %d", regionID, newSize)
	}
	return nil
}

// Allocate rounds size up to MinObjSize and attempts AllocOffset; on
// failure it merges the free list once and retries (§4.A allocate).
func (a *Allocator) Allocate(regionID uint64, size uint64) (uint64, error) {
	e, err := a.lookup(regionID)
	if err != nil {
		return 0, err
	}
	rounded := cmn.RoundUp(size, cmn.MinObjSize)
	offset, err := e.heap.AllocOffset(rounded)
	if err != nil {
		e.heap.Merge()
		offset, err = e.heap.AllocOffset(rounded)
		if err != nil {
			return 0, cmn.NewCodedError(cmn.Resource, cmn.HeapAllocateFailed, "region %d: no %d-byte block available", regionID, rounded)
		}
	}
	return offset, nil
}

// Deallocate frees offset back to the region's heap. If the region has a
// delayed-free shard, the free is deferred to an epoch-safe retirement
// (§4.A deallocate, §4.A invariant 1) instead of freeing immediately.
func (a *Allocator) Deallocate(regionID uint64, offset, size uint64) error {
	e, err := a.lookup(regionID)
	if err != nil {
		return err
	}
	if sh := a.shardFor(regionID); sh != nil {
		if rec, ok := sh.get(regionID); ok {
			rec.retire(offset, size)
			return nil
		}
	}
	e.heap.Free(offset, size)
	return nil
}

// GetLocalPointer translates a region-relative offset into this server's
// local address space (§4.A get_local_pointer).
func (a *Allocator) GetLocalPointer(regionID, offset uint64) ([]byte, error) {
	e, err := a.lookup(regionID)
	if err != nil {
		return nil, err
	}
	return e.heap.OffsetToLocalPtr(offset)
}

// CreateATLRoot is idempotent: on first boot it allocates a root array in
// the reserved ATOMIC_REGION_ID pool sized MaxAtomicThreads*8 bytes (one
// u64 ring-buffer root pointer per ATL worker) and remembers the offset;
// subsequent calls (including across restarts, once the caller has
// re-created the reserved region) return the same offset (§4.A
// create_atl_root, §3 "Atomic-region root pointer...initialized once per
// cluster lifetime").
func (a *Allocator) CreateATLRoot() (uint64, error) {
	a.atlMu.Lock()
	defer a.atlMu.Unlock()
	if a.atlRootSet {
		return a.atlRootOffset, nil
	}

	regionID := uint64(cmn.AtomicRegionID)
	if _, err := a.lookup(regionID); err != nil {
		if err := a.CreateRegion(regionID, cmn.MinRegionSize, cmn.MemoryVolatile); err != nil {
			return 0, err
		}
	}
	size := uint64(cmn.MaxAtomicThreads) * 8
	offset, err := a.Allocate(regionID, size)
	if err != nil {
		return 0, err
	}
	a.atlRootOffset = offset
	a.atlRootSet = true
	return offset, nil
}

func (a *Allocator) lookup(regionID uint64) (*entry, error) {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	e, ok := a.heaps[regionID]
	if !ok {
		return nil, cmn.NewError(cmn.NotFound, "region %d not found", regionID)
	}
	return e, nil
}

// RegionSize returns the current size of a region's heap, used by
// callers (e.g. the interleave decomposer, the resource manager) that
// need to bounds-check without reaching into pool internals.
func (a *Allocator) RegionSize(regionID uint64) (uint64, error) {
	e, err := a.lookup(regionID)
	if err != nil {
		return 0, err
	}
	return e.heap.Size(), nil
}
