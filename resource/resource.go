// Package resource implements Component C, the server resource manager
// (§4.C): reference-counted open/close of regions, coordinating
// registration lifetime with deallocation so that no fabric RDMA ever
// targets memory after deregistration.
package resource

import (
	"sync"
	"sync/atomic"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// State is one of the three monotone states a resource handle passes
// through (§3 Region Resource Handle, §4.C invariant 3).
type State uint32

const (
	Unregistered State = iota
	Registered
	Released
)

func (s State) String() string {
	switch s {
	case Registered:
		return "REGISTERED"
	case Released:
		return "RELEASED"
	default:
		return "UNREGISTERED"
	}
}

// OpenFlags mirror the RPC-level open flags (§4.C "Open resource").
type OpenFlags uint32

const (
	// FlagRegisterMemory requests that the 0→1 refcount transition also
	// registers all current extents of the region.
	FlagRegisterMemory OpenFlags = 1 << iota
	// FlagInitOnly requests registration without bumping the refcount.
	FlagInitOnly
)

// Extent is one server-local byte range backing a region, as needed by
// the register-on-first-open path (§4.C "If the transition crosses 0→1
// ... it registers all current extents of the region").
type Extent struct {
	Offset uint64
	Local  []byte
}

// Destroyer tears an entirely-closed region's heap down. Satisfied by
// *pool.Allocator.
type Destroyer interface {
	DestroyRegion(regionID uint64) error
	Deallocate(regionID, offset, size uint64) error
}

// Registrar performs the fabric (de)registration a resource handle
// coordinates. Satisfied by *regmap.Map.
type Registrar interface {
	RegisterWindow(regionID, offset uint64, local []byte, mode cmn.AccessMode) (uint64, error)
	Deregister(regionID, itemID uint64) error
	DeregisterRegion(regionID uint64)
}

type pendingItem struct {
	offset uint64
	size   uint64
}

// Handle is the per-region resource state (§3 Region Resource Handle):
// state and refcount co-located in one atomic word for CAS transitions.
type Handle struct {
	regionID        uint64
	permissionLevel cmn.PermissionLevel
	accessType      cmn.AccessMode
	extents         []Extent

	word          atomic.Uint64 // packed (state<<32 | refcount)
	destroyedFlag atomic.Bool

	mu      sync.Mutex
	pending []pendingItem // DATAITEM-level deferred deallocations
}

func pack(state State, refcount uint32) uint64 {
	return uint64(state)<<32 | uint64(refcount)
}

func unpack(word uint64) (State, uint32) {
	return State(word >> 32), uint32(word)
}

func (h *Handle) State() State {
	state, _ := unpack(h.word.Load())
	return state
}

func (h *Handle) Refcount() uint32 {
	_, refcount := unpack(h.word.Load())
	return refcount
}

// Manager owns every region's Handle, keyed by region_id, and the fixed
// CAS lock table used to serialize cold-path client atomics (§5).
type Manager struct {
	destroyer Destroyer
	registrar Registrar

	mu      sync.Mutex
	handles map[uint64]*Handle

	casLocks [cmn.CASLockTableSize]sync.Mutex
}

// NewManager constructs a Manager bound to the given pool destroyer and
// registration map.
func NewManager(destroyer Destroyer, registrar Registrar) *Manager {
	return &Manager{
		destroyer: destroyer,
		registrar: registrar,
		handles:   make(map[uint64]*Handle),
	}
}

// Track registers a new region with the manager, in the UNREGISTERED
// state, with its known extents for on-open registration. Called after
// pool.CreateRegion succeeds.
func (m *Manager) Track(regionID uint64, level cmn.PermissionLevel, access cmn.AccessMode, extents []Extent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &Handle{regionID: regionID, permissionLevel: level, accessType: access, extents: extents}
	m.handles[regionID] = h
}

// AddExtent records a newly allocated extent so a later 0→1 open
// registers it too (called by the server's open_region_with_registration
// before it opens the region).
func (m *Manager) AddExtent(regionID uint64, ext Extent) {
	m.mu.Lock()
	h, ok := m.handles[regionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.extents = append(h.extents, ext)
	h.mu.Unlock()
}

func (m *Manager) handle(regionID uint64) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[regionID]
	return h, ok
}

// OpenResource implements §4.C "Open resource". FAM_INIT_ONLY registers
// without incrementing the refcount (§9 known ambiguity: subsequent
// opens still register, chosen idempotent per that note).
func (m *Manager) OpenResource(regionID uint64, flags OpenFlags) (State, error) {
	h, ok := m.handle(regionID)
	if !ok {
		return Unregistered, cmn.NewError(cmn.NotFound, "resource: region %d not tracked", regionID)
	}

	if flags&FlagInitOnly != 0 {
		if err := m.registerExtents(h); err != nil {
			return h.State(), err
		}
		return h.State(), nil
	}

	for {
		old := h.word.Load()
		state, refcount := unpack(old)
		if state == Released {
			return state, cmn.NewError(cmn.Resource, "resource: region %d already released", regionID)
		}
		newRefcount := refcount + 1
		newState := state
		if refcount == 0 {
			if flags&FlagRegisterMemory != 0 {
				if err := m.registerExtents(h); err != nil {
					return state, err
				}
			}
			newState = Registered
		}
		if h.word.CompareAndSwap(old, pack(newState, newRefcount)) {
			return newState, nil
		}
	}
}

func (m *Manager) registerExtents(h *Handle) error {
	h.mu.Lock()
	extents := append([]Extent(nil), h.extents...)
	h.mu.Unlock()
	for _, ext := range extents {
		if _, err := m.registrar.RegisterWindow(h.regionID, ext.Offset, ext.Local, h.accessType); err != nil {
			return cmn.Wrap(err, cmn.Resource, "resource: register region %d extent at %d", h.regionID, ext.Offset)
		}
	}
	return nil
}

// MarkDeallocationPending defers an item-level free until the handle's
// refcount reaches zero, because the offset is part of the registration
// key and reusing it while peers hold handles is unsafe (§4.C "Deferred
// deallocation").
func (m *Manager) MarkDeallocationPending(regionID, offset, size uint64) error {
	h, ok := m.handle(regionID)
	if !ok {
		return cmn.NewError(cmn.NotFound, "resource: region %d not tracked", regionID)
	}
	h.mu.Lock()
	h.pending = append(h.pending, pendingItem{offset: offset, size: size})
	h.mu.Unlock()
	return nil
}

// CloseResource implements §4.C "Close resource" and "Destroy
// coordination": CAS-decrement; on reaching zero, deregister per the
// handle's permission level, then perform any deferred destroy.
func (m *Manager) CloseResource(regionID uint64) (State, error) {
	h, ok := m.handle(regionID)
	if !ok {
		return Unregistered, cmn.NewError(cmn.NotFound, "resource: region %d not tracked", regionID)
	}

	for {
		old := h.word.Load()
		state, refcount := unpack(old)
		if refcount == 0 {
			return state, nil
		}
		if refcount > 1 {
			if h.word.CompareAndSwap(old, pack(state, refcount-1)) {
				return state, nil
			}
			continue
		}

		// refcount is dropping 1 -> 0: release registrations for this
		// handle before publishing the new state, so no fabric RDMA can
		// observe REGISTERED after we've started tearing down (§4.C
		// invariant 1).
		switch h.permissionLevel {
		case cmn.PermissionRegion:
			m.registrar.DeregisterRegion(regionID)
		case cmn.PermissionDataItem:
			m.drainPending(h)
		}

		if !h.word.CompareAndSwap(old, pack(Released, 0)) {
			continue
		}

		if h.destroyedFlag.Load() {
			if err := m.finishDestroy(h); err != nil {
				xlog.Errorf("resource: deferred destroy of region %d: %v", regionID, err)
			}
		}
		return Released, nil
	}
}

func (m *Manager) drainPending(h *Handle) {
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()
	for _, p := range pending {
		itemID := cmn.ItemIDForOffset(p.offset)
		if err := m.registrar.Deregister(h.regionID, itemID); err != nil {
			xlog.Errorf("resource: deregister region %d item %d: %v", h.regionID, itemID, err)
		}
		if err := m.destroyer.Deallocate(h.regionID, p.offset, p.size); err != nil {
			xlog.Errorf("resource: deferred free region %d offset %d: %v", h.regionID, p.offset, err)
		}
	}
}

// DestroyRegion implements §4.C "Destroy coordination". If the refcount
// is already zero, destruction proceeds immediately; otherwise the
// destroyed flag is set and the current state returned, and the caller
// must retry-close.
func (m *Manager) DestroyRegion(regionID uint64) (State, error) {
	h, ok := m.handle(regionID)
	if !ok {
		// Never opened: nothing to coordinate, destroy directly.
		if err := m.destroyer.DestroyRegion(regionID); err != nil {
			return Unregistered, err
		}
		return Released, nil
	}

	state, refcount := unpack(h.word.Load())
	if refcount > 0 {
		h.destroyedFlag.Store(true)
		return state, nil
	}
	if err := m.finishDestroy(h); err != nil {
		return state, err
	}
	return Released, nil
}

func (m *Manager) finishDestroy(h *Handle) error {
	m.registrar.DeregisterRegion(h.regionID)
	if err := m.destroyer.DestroyRegion(h.regionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.handles, h.regionID)
	m.mu.Unlock()
	return nil
}

// AcquireCASLock serializes client-level CAS emulation on cold-path
// atomics, selecting one of a fixed 128-entry lock table by
// (offset >> 7) mod 128 (§5 Shared resources and locks).
func (m *Manager) AcquireCASLock(offset uint64) {
	m.casLocks[casLockIndex(offset)].Lock()
}

// ReleaseCASLock releases the lock acquired by AcquireCASLock for the
// same offset.
func (m *Manager) ReleaseCASLock(offset uint64) {
	m.casLocks[casLockIndex(offset)].Unlock()
}

func casLockIndex(offset uint64) int {
	return int((offset >> 7) % cmn.CASLockTableSize)
}
