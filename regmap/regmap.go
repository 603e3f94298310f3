// Package regmap implements Component B, the memory registration map
// (§4.B): a two-level map from (region_id, item_id, access_mode) to a
// fabric memory-region handle, split into an outer region_id→RegionMap
// lock and a per-region inner lock so that registering a key in one
// region never contends with another region's traffic.
package regmap

import (
	"sync"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/fabric"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// RegionMap is one region's access_key → fabric handle table, guarded by
// its own reader-writer lock (§4.B Shape).
type RegionMap struct {
	mu    sync.RWMutex
	byKey map[uint64]*fabric.MemoryRegion
}

func newRegionMap() *RegionMap {
	return &RegionMap{byKey: make(map[uint64]*fabric.MemoryRegion)}
}

// Map is the outer region_id → RegionMap table plus the fence-key window
// registered at boot (§4.B Fence key).
type Map struct {
	mu      sync.RWMutex
	regions map[uint64]*RegionMap

	endpoint fabric.Endpoint

	fenceMu  sync.Mutex
	fenceKey uint64
	fenceMR  *fabric.MemoryRegion
	fenceSet bool
}

// FenceKey is the reserved access key for the boot-time anonymous fence
// window (§4.B Fence key). The packed key uses all 64 bits, so this value
// is also the packing of region 0xFFFF, item id cmn.ItemMask, read-only;
// that item id corresponds to a heap offset of about 2^54 bytes.
const FenceKey = ^uint64(0) - 1

// New constructs an empty registration map bound to endpoint for actual
// fabric registration calls.
func New(endpoint fabric.Endpoint) *Map {
	return &Map{regions: make(map[uint64]*RegionMap), endpoint: endpoint}
}

func (m *Map) regionMap(regionID uint64, createIfAbsent bool) *RegionMap {
	m.mu.RLock()
	rm, ok := m.regions[regionID]
	m.mu.RUnlock()
	if ok || !createIfAbsent {
		return rm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Recheck after upgrading to the write lock: a concurrent writer may
	// have inserted the region map while we didn't hold any lock (§4.B
	// step 2, "discard any speculatively-created map if a concurrent
	// writer beat us").
	if rm, ok := m.regions[regionID]; ok {
		return rm
	}
	rm = newRegionMap()
	m.regions[regionID] = rm
	return rm
}

// RegisterWindow implements §4.B "Register window". It derives item_id
// from offset, packs the access key, and either returns an already
// registered key or performs a fresh fabric registration, storing the
// handle under whatever key the fabric actually returned (providers may
// rewrite the requested key).
func (m *Map) RegisterWindow(regionID, offset uint64, local []byte, mode cmn.AccessMode) (uint64, error) {
	itemID := cmn.ItemIDForOffset(offset)
	requestedKey := cmn.PackKey(uint16(regionID), itemID, mode)

	rm := m.regionMap(regionID, true)

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if mr, ok := rm.byKey[requestedKey]; ok {
		return mr.Key, nil
	}

	fabricMode := fabric.AccessRO
	if mode == cmn.AccessRW {
		fabricMode = fabric.AccessRW
	}
	mr, err := m.endpoint.RegisterMemory(requestedKey, local, fabricMode)
	if err != nil {
		return 0, cmn.Wrap(err, cmn.Resource, "regmap: register region %d item %d", regionID, itemID)
	}
	rm.byKey[mr.Key] = mr
	return mr.Key, nil
}

// LookupKey returns the stored key for (region_id, item_id, mode) if the
// item is currently registered, ignoring provider re-keying beyond what
// was stored at registration time (§8 round-trip law).
func (m *Map) LookupKey(regionID, itemID uint64, mode cmn.AccessMode) (uint64, bool) {
	requestedKey := cmn.PackKey(uint16(regionID), itemID, mode)
	rm := m.regionMap(regionID, false)
	if rm == nil {
		return 0, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	mr, ok := rm.byKey[requestedKey]
	if !ok {
		return 0, false
	}
	return mr.Key, true
}

// Deregister removes both RO and RW entries for (region_id, item_id), if
// present (§4.B Deregister — "symmetrical"). The outer map entry
// survives as long as its inner map is nonempty.
func (m *Map) Deregister(regionID, itemID uint64) error {
	rm := m.regionMap(regionID, false)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	var firstErr error
	for _, mode := range []cmn.AccessMode{cmn.AccessRO, cmn.AccessRW} {
		key := cmn.PackKey(uint16(regionID), itemID, mode)
		mr, ok := rm.byKey[key]
		if !ok {
			continue
		}
		if err := m.endpoint.Deregister(mr); err != nil {
			if firstErr == nil {
				firstErr = cmn.NewCodedError(cmn.Resource, cmn.ItemDeregistrationFailed, "regmap: deregister region %d item %d mode %v: %v", regionID, itemID, mode, err)
			}
			continue
		}
		delete(rm.byKey, key)
	}
	return firstErr
}

// DeregisterRegion atomically removes the outer entry under the outer
// write lock, then deregisters every remaining handle under the inner
// write lock; errors are logged and iteration continues (§4.B
// "Deregister region").
func (m *Map) DeregisterRegion(regionID uint64) {
	m.mu.Lock()
	rm, ok := m.regions[regionID]
	delete(m.regions, regionID)
	m.mu.Unlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for key, mr := range rm.byKey {
		if err := m.endpoint.Deregister(mr); err != nil {
			xlog.Errorf("regmap: deregister region %d key %d: %v", regionID, key, err)
			continue
		}
		delete(rm.byKey, key)
	}
}

// RegisterFenceKey registers the boot-time anonymous fence window used
// by clients for fence operations (§4.B Fence key). Idempotent.
func (m *Map) RegisterFenceKey(local []byte) (uint64, error) {
	m.fenceMu.Lock()
	defer m.fenceMu.Unlock()
	if m.fenceSet {
		return m.fenceKey, nil
	}
	mr, err := m.endpoint.RegisterMemory(FenceKey, local, fabric.AccessRW)
	if err != nil {
		return 0, cmn.Wrap(err, cmn.Resource, "regmap: register fence key")
	}
	m.fenceMR = mr
	m.fenceKey = mr.Key
	m.fenceSet = true
	return m.fenceKey, nil
}

// DeregisterFenceKey is called on shutdown (§4.B Fence key).
func (m *Map) DeregisterFenceKey() error {
	m.fenceMu.Lock()
	defer m.fenceMu.Unlock()
	if !m.fenceSet {
		return nil
	}
	err := m.endpoint.Deregister(m.fenceMR)
	m.fenceSet = false
	m.fenceMR = nil
	return err
}
