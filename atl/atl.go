// Package atl implements Component F, the Atomic Transfer Library
// (§4.F): a fixed pool of single-consumer worker threads, each owning a
// FAM-resident ring buffer, that perform arbitrary-size atomic get/put/
// scatter/gather requests on the server's behalf and RDMA the results
// back to the requesting client.
package atl

import (
	"runtime"
	"sync"

	xxhash "github.com/OneOfOne/xxhash"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/fabric"
	"github.com/OpenFAM/OpenFAM-sub004/metrics"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// LocalPointerResolver is the (A) collaborator ATL uses to read/write
// FAM bytes directly.
type LocalPointerResolver interface {
	GetLocalPointer(regionID, offset uint64) ([]byte, error)
}

// Manager owns every ATL worker and the shared client-address cache
// (§5 "Client address vector | fiAddrLock rwlock").
type Manager struct {
	workers  []*worker
	pool     LocalPointerResolver
	endpoint fabric.Endpoint
	metrics  *metrics.Registry

	fiAddrLock  sync.RWMutex
	addrCache   map[string]fabric.PeerAddr

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager constructs numWorkers ATL workers, each with a queue of the
// given capacity. numWorkers == 0 disables ATL entirely (§4.F "Running
// ATL is optional").
func NewManager(numWorkers, queueCapacity int, pool LocalPointerResolver, endpoint fabric.Endpoint, reg *metrics.Registry) *Manager {
	m := &Manager{
		pool:      pool,
		endpoint:  endpoint,
		metrics:   reg,
		addrCache: make(map[string]fabric.PeerAddr),
		stopCh:    make(chan struct{}),
	}
	for i := 0; i < numWorkers; i++ {
		m.workers = append(m.workers, &worker{id: i, queue: newQueue(queueCapacity), mgr: m})
	}
	return m
}

// Enabled reports whether ATL has any workers (§4.F, §6 "ATL_threads | ATL
// worker count (0 disables)").
func (m *Manager) Enabled() bool { return len(m.workers) > 0 }

// Start launches every worker's dispatch goroutine.
func (m *Manager) Start() {
	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w *worker) {
			defer m.wg.Done()
			w.run(m.stopCh)
		}(w)
	}
}

// Stop halts every worker and waits for their goroutines to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// shardFor picks the worker for (region_id, offset) via
// hash(region_id, offset) mod num_workers (§4.F "Queue structure").
func (m *Manager) shardFor(regionID, offset uint64) int {
	if len(m.workers) == 0 {
		return -1
	}
	var buf [16]byte
	putUint64(buf[0:8], regionID)
	putUint64(buf[8:16], offset)
	h := xxhash.Checksum64(buf[:])
	return int(h % uint64(len(m.workers)))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// Push enqueues msg onto the shard selected by (region_id, offset). It
// fails with ATL_NOT_ENABLED if no workers exist, or ATL_QUEUE_FULL if
// the shard's queue is at capacity (§4.F).
func (m *Manager) Push(regionID, offset uint64, msg *Message) error {
	if !m.Enabled() {
		return cmn.NewCodedError(cmn.Resource, cmn.ATLNotEnabled, "atl: no workers configured")
	}
	idx := m.shardFor(regionID, offset)
	w := m.workers[idx]
	msg.TargetRegionID = regionID
	msg.TargetOffset = offset
	if !w.queue.push(msg) {
		return cmn.NewCodedError(cmn.Resource, cmn.ATLQueueFull, "atl: shard %d queue full", idx)
	}
	if m.metrics != nil {
		m.metrics.ATLQueueDepth.WithLabelValues(workerLabel(idx)).Set(float64(w.queue.depth()))
	}
	return nil
}

// resolveClientAddr resolves and caches a client fabric address,
// serialized by fiAddrLock (§4.F "resolve client fabric address in the
// address vector under fiAddrLock", §5).
func (m *Manager) resolveClientAddr(raw []byte) (fabric.PeerAddr, error) {
	key := string(raw)

	m.fiAddrLock.RLock()
	addr, ok := m.addrCache[key]
	m.fiAddrLock.RUnlock()
	if ok {
		return addr, nil
	}

	m.fiAddrLock.Lock()
	defer m.fiAddrLock.Unlock()
	if addr, ok := m.addrCache[key]; ok {
		return addr, nil
	}
	addr, err := m.endpoint.Resolve(raw)
	if err != nil {
		return fabric.PeerAddr{}, err
	}
	m.addrCache[key] = addr
	return addr, nil
}

func workerLabel(idx int) string {
	return "w" + itoaSmall(idx)
}

func itoaSmall(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// worker owns one shard's queue and runs its single-consumer dispatch
// loop (§4.F "Worker loop").
type worker struct {
	id    int
	queue *queue
	mgr   *Manager
}

func (w *worker) run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		msg, ok := w.queue.peek()
		if !ok {
			runtime.Gosched()
			continue
		}

		addr, err := w.mgr.resolveClientAddr(msg.ClientFabricAddress[:msg.ClientFabricAddressLen])
		if err != nil {
			msg.Err = cmn.Wrap(err, cmn.Resource, "atl: resolve client address")
			w.complete(msg)
			continue
		}

		if err := w.dispatch(msg, addr); err != nil {
			msg.Err = err
			xlog.Errorf("atl: worker %d request against region %d offset %d: %v", w.id, msg.TargetRegionID, msg.TargetOffset, err)
			if w.mgr.metrics != nil {
				w.mgr.metrics.ATLRequestsTotal.WithLabelValues(workerLabel(w.id), "error").Inc()
			}
		} else if w.mgr.metrics != nil {
			w.mgr.metrics.ATLRequestsTotal.WithLabelValues(workerLabel(w.id), "ok").Inc()
		}
		w.complete(msg)
	}
}

// complete sets WRITE_COMPLETED and pops the message regardless of
// outcome, so a failed client RDMA fails only that request and the
// queue never blocks (§4.F "Failure semantics", §7 "ATL: one failed
// client RDMA fails only that request; worker continues.").
func (w *worker) complete(msg *Message) {
	msg.Flag |= FlagWriteCompleted
	msg.Flag &^= FlagWriteInProgress
	w.queue.pop()
	if w.mgr.metrics != nil {
		w.mgr.metrics.ATLQueueDepth.WithLabelValues(workerLabel(w.id)).Set(float64(w.queue.depth()))
	}
}

func (w *worker) dispatch(msg *Message, addr fabric.PeerAddr) error {
	msg.Flag |= FlagWriteInProgress

	if msg.Flag.has(FlagAtomic) {
		fam, err := w.mgr.pool.GetLocalPointer(msg.TargetRegionID, msg.TargetOffset)
		if err != nil {
			return cmn.Wrap(err, cmn.Resource, "atl: resolve FAM target")
		}
		return applyScalarAtomic(fam, msg)
	}

	switch {
	case msg.Flag.has(FlagRead):
		return w.handleRead(msg, addr)
	case msg.Flag.has(FlagWrite):
		return w.handleWrite(msg, addr)
	case msg.Flag.has(FlagScatterStride):
		return w.handleScatterStride(msg, addr)
	case msg.Flag.has(FlagGatherStride):
		return w.handleGatherStride(msg, addr)
	case msg.Flag.has(FlagScatterIndex):
		return w.handleScatterIndex(msg, addr)
	case msg.Flag.has(FlagGatherIndex):
		return w.handleGatherIndex(msg, addr)
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: message carries no recognized operation flag")
	}
}

// handleRead implements the READ case of §4.F's worker loop: from the
// client's perspective this is a get, so the server fabric-writes FAM
// bytes into the client's registered buffer.
func (w *worker) handleRead(msg *Message, addr fabric.PeerAddr) error {
	fam, err := w.mgr.pool.GetLocalPointer(msg.TargetRegionID, msg.TargetOffset)
	if err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: resolve FAM source")
	}
	size := msg.Operands.Size
	if size == 0 || size > uint64(len(fam)) {
		return cmn.NewError(cmn.OutOfRange, "atl: read size %d exceeds FAM extent", size)
	}
	h, err := w.mgr.endpoint.Write(addr, msg.ClientMemoryKey, msg.ClientBufferOffset, fam[:size])
	if err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: write to client buffer")
	}
	return h.Wait(nil)
}

// handleWrite implements the WRITE case: inline bytes are copied
// directly; otherwise the payload is fabric-read from the client's
// buffer into a scratch slice and then copied into FAM.
func (w *worker) handleWrite(msg *Message, addr fabric.PeerAddr) error {
	fam, err := w.mgr.pool.GetLocalPointer(msg.TargetRegionID, msg.TargetOffset)
	if err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: resolve FAM destination")
	}
	size := msg.Operands.Size
	if size == 0 || size > uint64(len(fam)) {
		return cmn.NewError(cmn.OutOfRange, "atl: write size %d exceeds FAM extent", size)
	}
	if msg.Flag.has(FlagContainData) {
		copy(fam[:size], msg.Inline[:size])
		return nil
	}
	scratch := make([]byte, size)
	h, err := w.mgr.endpoint.Read(addr, msg.ClientMemoryKey, msg.ClientBufferOffset, scratch)
	if err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: read from client buffer")
	}
	if err := h.Wait(nil); err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: await client buffer read")
	}
	copy(fam[:size], scratch)
	return nil
}

// handleScatterStride: for each i in 0..n, fabric-read one element from
// the client and store it at first+i*stride in FAM.
func (w *worker) handleScatterStride(msg *Message, addr fabric.PeerAddr) error {
	return w.strideLoop(msg, addr, true)
}

// handleGatherStride: for each i in 0..n, load the element at
// first+i*stride from FAM and fabric-write it to the client.
func (w *worker) handleGatherStride(msg *Message, addr fabric.PeerAddr) error {
	return w.strideLoop(msg, addr, false)
}

func (w *worker) strideLoop(msg *Message, addr fabric.PeerAddr, scatter bool) error {
	op := msg.Operands
	for i := uint64(0); i < op.NElements; i++ {
		elemOffset := msg.TargetOffset + op.FirstElement + i*op.Stride
		fam, err := w.mgr.pool.GetLocalPointer(msg.TargetRegionID, elemOffset)
		if err != nil {
			return cmn.Wrap(err, cmn.Resource, "atl: stride element %d", i)
		}
		if uint64(len(fam)) < op.ElementSize {
			return cmn.NewError(cmn.OutOfRange, "atl: stride element %d exceeds FAM extent", i)
		}
		clientOffset := msg.ClientBufferOffset + i*op.ElementSize
		if scatter {
			h, err := w.mgr.endpoint.Read(addr, msg.ClientMemoryKey, clientOffset, fam[:op.ElementSize])
			if err != nil {
				return cmn.Wrap(err, cmn.Resource, "atl: scatter-stride read element %d", i)
			}
			if err := h.Wait(nil); err != nil {
				return err
			}
		} else {
			h, err := w.mgr.endpoint.Write(addr, msg.ClientMemoryKey, clientOffset, fam[:op.ElementSize])
			if err != nil {
				return cmn.Wrap(err, cmn.Resource, "atl: gather-stride write element %d", i)
			}
			if err := h.Wait(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleScatterIndex/handleGatherIndex first fabric-read the index
// vector from the client, then perform one per-index element transfer
// each (§4.F "fabric_read the index vector, then per-index ...").
func (w *worker) handleScatterIndex(msg *Message, addr fabric.PeerAddr) error {
	return w.indexLoop(msg, addr, true)
}

func (w *worker) handleGatherIndex(msg *Message, addr fabric.PeerAddr) error {
	return w.indexLoop(msg, addr, false)
}

func (w *worker) indexLoop(msg *Message, addr fabric.PeerAddr, scatter bool) error {
	op := msg.Operands
	indices := make([]byte, op.NElements*8)
	h, err := w.mgr.endpoint.Read(addr, msg.ClientMemoryKey, msg.ClientBufferOffset, indices)
	if err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: read index vector")
	}
	if err := h.Wait(nil); err != nil {
		return cmn.Wrap(err, cmn.Resource, "atl: await index vector read")
	}

	for i := uint64(0); i < op.NElements; i++ {
		idx := leUint64(indices[i*8 : i*8+8])
		elemOffset := msg.TargetOffset + idx*op.ElementSize
		fam, err := w.mgr.pool.GetLocalPointer(msg.TargetRegionID, elemOffset)
		if err != nil {
			return cmn.Wrap(err, cmn.Resource, "atl: index element %d (idx %d)", i, idx)
		}
		if uint64(len(fam)) < op.ElementSize {
			return cmn.NewError(cmn.OutOfRange, "atl: index element %d exceeds FAM extent", i)
		}
		clientOffset := msg.ClientBufferOffset + op.NElements*8 + i*op.ElementSize
		if scatter {
			rh, err := w.mgr.endpoint.Read(addr, msg.ClientMemoryKey, clientOffset, fam[:op.ElementSize])
			if err != nil {
				return cmn.Wrap(err, cmn.Resource, "atl: scatter-index read element %d", i)
			}
			if err := rh.Wait(nil); err != nil {
				return err
			}
		} else {
			wh, err := w.mgr.endpoint.Write(addr, msg.ClientMemoryKey, clientOffset, fam[:op.ElementSize])
			if err != nil {
				return cmn.Wrap(err, cmn.Resource, "atl: gather-index write element %d", i)
			}
			if err := wh.Wait(nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
