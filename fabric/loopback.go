package fabric

import (
	"context"
	"fmt"
	"sync"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// Loopback is an in-process Endpoint used by tests and local
// single-binary deployments: "RDMA" is a direct copy against the target
// region's registered backing slice. It honors the same progress-mode
// and registration-key contract as a real provider so code written
// against Endpoint never special-cases it.
type Loopback struct {
	mu      sync.RWMutex
	mode    ProgressMode
	regions map[uint64]*MemoryRegion
	faults  map[uint64]error // key -> injected failure, for testing §4.E/§4.F failure paths
	addr    PeerAddr
	nextID  uint64
}

// NewLoopback creates a Loopback endpoint identified by name, in the
// given progress mode.
func NewLoopback(name string, mode ProgressMode) *Loopback {
	return &Loopback{
		mode:    mode,
		regions: make(map[uint64]*MemoryRegion),
		faults:  make(map[uint64]error),
		addr:    PeerAddr{id: 1, name: name},
	}
}

func (l *Loopback) Mode() ProgressMode { return l.mode }
func (l *Loopback) Progress()          {}

func (l *Loopback) RegisterMemory(requestedKey uint64, base []byte, rw AccessMode) (*MemoryRegion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mr := &MemoryRegion{Key: requestedKey, local: base}
	l.regions[requestedKey] = mr
	return mr, nil
}

func (l *Loopback) Deregister(mr *MemoryRegion) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.regions, mr.Key)
	delete(l.faults, mr.Key)
	return nil
}

// InjectFault makes the next Read or Write targeting key fail with err,
// for exercising §4.E/§4.F failure-propagation paths deterministically.
func (l *Loopback) InjectFault(key uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults[key] = err
}

func (l *Loopback) lookup(key uint64) (*MemoryRegion, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err, ok := l.faults[key]; ok {
		delete(l.faults, key)
		return nil, err
	}
	mr, ok := l.regions[key]
	if !ok {
		return nil, cmn.NewError(cmn.Resource, "fabric: key %d not registered", key)
	}
	return mr, nil
}

type doneHandle struct{ err error }

func (d doneHandle) Wait(ctx context.Context) error { return d.err }

func (l *Loopback) Read(_ PeerAddr, key uint64, remoteOffset uint64, local []byte) (CompletionHandle, error) {
	mr, err := l.lookup(key)
	if err != nil {
		return nil, err
	}
	if remoteOffset+uint64(len(local)) > uint64(len(mr.local)) {
		return nil, cmn.NewError(cmn.OutOfRange, "fabric read: [%d,%d) exceeds region of size %d", remoteOffset, remoteOffset+uint64(len(local)), len(mr.local))
	}
	copy(local, mr.local[remoteOffset:remoteOffset+uint64(len(local))])
	return doneHandle{}, nil
}

func (l *Loopback) Write(_ PeerAddr, key uint64, remoteOffset uint64, local []byte) (CompletionHandle, error) {
	mr, err := l.lookup(key)
	if err != nil {
		return nil, err
	}
	if remoteOffset+uint64(len(local)) > uint64(len(mr.local)) {
		return nil, cmn.NewError(cmn.OutOfRange, "fabric write: [%d,%d) exceeds region of size %d", remoteOffset, remoteOffset+uint64(len(local)), len(mr.local))
	}
	copy(mr.local[remoteOffset:remoteOffset+uint64(len(local))], local)
	return doneHandle{}, nil
}

func (l *Loopback) Fence(PeerAddr) error { return nil }
func (l *Loopback) Quiet(PeerAddr) error { return nil }

func (l *Loopback) LocalAddr() PeerAddr { return l.addr }

func (l *Loopback) Resolve(addrBytes []byte) (PeerAddr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return PeerAddr{id: l.nextID, name: fmt.Sprintf("loopback-%d:%s", l.nextID, string(addrBytes))}, nil
}

func (l *Loopback) Close() error { return nil }
