package pool

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/OpenFAM/OpenFAM-sub004/metrics"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// sweepInterval is the ~1ms pause between delayed-free sweeps (§4.A).
const sweepInterval = time.Millisecond

type retiredOffset struct {
	offset uint64
	size   uint64
	epoch  uint64
}

// heapRecord is one shard's entry for a region: the heap itself, its
// retired-but-not-yet-freed offsets, and the epoch counter that gates
// their reclamation (§3 Delayed-Free Shard, §9 Manual epochs).
type heapRecord struct {
	mu      sync.RWMutex
	valid   bool
	heap    Heap
	retired []retiredOffset
	epoch   uint64
	filter  *cuckoo.Filter // accelerator: "possibly retired" prefilter
}

func newHeapRecord(h Heap) *heapRecord {
	return &heapRecord{valid: true, heap: h, filter: cuckoo.NewFilter(1024)}
}

// retire appends offset to the record's retired list, tagged with the
// current epoch, instead of freeing it immediately — the delayed-free
// worker frees it once the epoch has advanced (§4.A deallocate). A
// repeated retire of the same offset before its epoch reclaims (e.g. a
// client retrying a deallocate RPC) is dropped instead of double-freed:
// maybeRetired's prefilter check happens outside the write lock so the
// common non-duplicate case never pays for a scan of retired.
func (r *heapRecord) retire(offset, size uint64) {
	duplicate := r.maybeRetired(offset)

	r.mu.Lock()
	defer r.mu.Unlock()
	if duplicate {
		for _, ro := range r.retired {
			if ro.offset == offset {
				logShardEvent("pool: dropping duplicate retire of offset %d", offset)
				return
			}
		}
	}
	r.retired = append(r.retired, retiredOffset{offset: offset, size: size, epoch: r.epoch})
	r.filter.InsertUnique(offsetKey(offset))
}

// maybeRetired is a fast, lock-light (single RLock) prefilter: false
// means "definitely not retired", true means "possibly retired" — the
// cuckoo filter never false-negatives, so only the true case needs the
// definitive scan retire does under its write lock.
func (r *heapRecord) maybeRetired(offset uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter.Lookup(offsetKey(offset))
}

func offsetKey(offset uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], offset)
	return b[:]
}

// delayedFreeFn advances this record's epoch by one and reclaims every
// retired offset tagged with a strictly older epoch, giving any reader
// that observed the offset before the retirement at least one full
// epoch's grace period (§4.A invariant 1, §9 Manual epochs). Callers
// must hold r.mu for writing; sweepOnce takes the lock once and calls
// this directly rather than recursing through a second lock acquisition.
func (r *heapRecord) delayedFreeFn(reg *metrics.Registry) {
	r.epoch++
	kept := r.retired[:0]
	reclaimed := 0
	for _, ro := range r.retired {
		if ro.epoch < r.epoch {
			r.heap.Free(ro.offset, ro.size)
			reclaimed++
		} else {
			kept = append(kept, ro)
		}
	}
	r.retired = kept
	if reg != nil && reclaimed > 0 {
		reg.DelayedFreeReclaim.Add(float64(reclaimed))
	}
}

// shard owns a partition of region_ids (sharded by region_id mod
// num_delayed_free_threads) and sweeps them on its own goroutine (§3
// Delayed-Free Shard, §4.A Delayed-free worker).
type shard struct {
	mu      sync.RWMutex
	ids     []uint64 // sorted, kept in sync with records
	records map[uint64]*heapRecord

	index   int
	stopCh  chan struct{}
	doneCh  chan struct{}
	metrics *metrics.Registry
}

func newShard(index int, reg *metrics.Registry) *shard {
	return &shard{
		index:   index,
		records: make(map[uint64]*heapRecord),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		metrics: reg,
	}
}

func (s *shard) insert(regionID uint64, h Heap) *heapRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := newHeapRecord(h)
	s.records[regionID] = rec
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= regionID })
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = regionID
	return rec
}

// invalidate marks the region's record invalid under the record's own
// write lock and removes it from the shard (§4.A invariant: "a heap is
// destroyed only after its shard record is marked invalid under write
// lock").
func (s *shard) invalidate(regionID uint64) {
	s.mu.Lock()
	rec, ok := s.records[regionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.records, regionID)
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= regionID })
	if i < len(s.ids) && s.ids[i] == regionID {
		s.ids = append(s.ids[:i], s.ids[i+1:]...)
	}
	s.mu.Unlock()

	rec.mu.Lock()
	rec.valid = false
	rec.mu.Unlock()
}

func (s *shard) get(regionID uint64) (*heapRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[regionID]
	return rec, ok
}

// run is the worker loop of §4.A: take the shard read-lock, advance an
// upper-bound cursor over the sorted ids, hand off to the per-record
// lock before invoking delayed_free_fn, then sleep and repeat.
func (s *shard) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
			if s.metrics != nil {
				s.metrics.DelayedFreeSweeps.Inc()
			}
		}
	}
}

func (s *shard) sweepOnce() {
	nextID := uint64(0)
	started := false
	for {
		s.mu.RLock()
		start := 0
		if started {
			start = sort.Search(len(s.ids), func(i int) bool { return s.ids[i] > nextID })
		}
		if start >= len(s.ids) {
			s.mu.RUnlock()
			return
		}
		id := s.ids[start]
		rec := s.records[id]
		s.mu.RUnlock()

		rec.mu.Lock()
		if rec.valid && rec.heap.IsOpen() {
			rec.delayedFreeFn(s.metrics)
		}
		rec.mu.Unlock()

		nextID = id
		started = true
	}
}

func (s *shard) stop() {
	close(s.stopCh)
	<-s.doneCh
}

func shardIndex(regionID uint64, numShards int) int {
	if numShards == 0 {
		return -1
	}
	return int(regionID % uint64(numShards))
}

func logShardEvent(format string, args ...interface{}) {
	xlog.V(4).Infof(format, args...)
}
