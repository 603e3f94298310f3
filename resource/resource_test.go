package resource

import (
	"sync"
	"testing"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

type fakeBackend struct {
	mu          sync.Mutex
	destroyed   map[uint64]bool
	deallocated map[uint64]int
	deregistered map[uint64]int
	deregisteredRegions int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		destroyed:    make(map[uint64]bool),
		deallocated:  make(map[uint64]int),
		deregistered: make(map[uint64]int),
	}
}

func (f *fakeBackend) DestroyRegion(regionID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed[regionID] = true
	return nil
}

func (f *fakeBackend) Deallocate(regionID, offset, size uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deallocated[regionID]++
	return nil
}

func (f *fakeBackend) RegisterWindow(regionID, offset uint64, local []byte, mode cmn.AccessMode) (uint64, error) {
	return cmn.PackKey(uint16(regionID), cmn.ItemIDForOffset(offset), mode), nil
}

func (f *fakeBackend) Deregister(regionID, itemID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered[regionID]++
	return nil
}

func (f *fakeBackend) DeregisterRegion(regionID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregisteredRegions++
}

func TestOpenCloseRefcounting(t *testing.T) {
	be := newFakeBackend()
	m := NewManager(be, be)
	m.Track(1, cmn.PermissionRegion, cmn.AccessRW, nil)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.OpenResource(1, FlagRegisterMemory); err != nil {
				t.Errorf("OpenResource: %v", err)
			}
		}()
	}
	wg.Wait()

	h, _ := m.handle(1)
	if got := h.Refcount(); got != n {
		t.Fatalf("expected refcount %d, got %d", n, got)
	}

	if _, err := m.CloseResource(1); err != nil {
		t.Fatalf("CloseResource: %v", err)
	}
	if got := h.Refcount(); got != n-1 {
		t.Fatalf("expected refcount %d after one close, got %d", n-1, got)
	}
}

func TestCloseToZeroReleasesRegion(t *testing.T) {
	be := newFakeBackend()
	m := NewManager(be, be)
	m.Track(2, cmn.PermissionRegion, cmn.AccessRW, nil)

	if _, err := m.OpenResource(2, FlagRegisterMemory); err != nil {
		t.Fatalf("OpenResource: %v", err)
	}
	state, err := m.CloseResource(2)
	if err != nil {
		t.Fatalf("CloseResource: %v", err)
	}
	if state != Released {
		t.Fatalf("expected RELEASED, got %v", state)
	}
	if be.deregisteredRegions != 1 {
		t.Fatalf("expected one DeregisterRegion call, got %d", be.deregisteredRegions)
	}
}

// TestDestroyWhileOpenDefersUntilClose mirrors spec scenario 6: a destroy
// arriving while refcount > 0 sets the destroyed flag and returns the
// current state; the subsequent close performs the real destroy.
func TestDestroyWhileOpenDefersUntilClose(t *testing.T) {
	be := newFakeBackend()
	m := NewManager(be, be)
	m.Track(3, cmn.PermissionRegion, cmn.AccessRW, nil)

	if _, err := m.OpenResource(3, FlagRegisterMemory); err != nil {
		t.Fatalf("OpenResource: %v", err)
	}

	state, err := m.DestroyRegion(3)
	if err != nil {
		t.Fatalf("DestroyRegion: %v", err)
	}
	if state != Registered {
		t.Fatalf("expected REGISTERED (destroy deferred), got %v", state)
	}
	if be.destroyed[3] {
		t.Fatalf("destroy should not have run yet")
	}

	state, err = m.CloseResource(3)
	if err != nil {
		t.Fatalf("CloseResource: %v", err)
	}
	if state != Released {
		t.Fatalf("expected RELEASED after close, got %v", state)
	}
	if !be.destroyed[3] {
		t.Fatalf("expected destroy to have run after close")
	}
}

func TestDeferredDataItemDeallocation(t *testing.T) {
	be := newFakeBackend()
	m := NewManager(be, be)
	m.Track(4, cmn.PermissionDataItem, cmn.AccessRW, nil)

	if _, err := m.OpenResource(4, FlagRegisterMemory); err != nil {
		t.Fatalf("OpenResource: %v", err)
	}
	if err := m.MarkDeallocationPending(4, 256, 128); err != nil {
		t.Fatalf("MarkDeallocationPending: %v", err)
	}
	if be.deallocated[4] != 0 {
		t.Fatalf("deallocation should be deferred, not immediate")
	}
	if _, err := m.CloseResource(4); err != nil {
		t.Fatalf("CloseResource: %v", err)
	}
	if be.deallocated[4] != 1 {
		t.Fatalf("expected deferred deallocation to run on close, got count %d", be.deallocated[4])
	}
}
