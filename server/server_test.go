package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/config"
	"github.com/OpenFAM/OpenFAM-sub004/fabric"
	"github.com/OpenFAM/OpenFAM-sub004/metrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Defaults()
	cfg.FamBackupPath = t.TempDir()
	endpoint := fabric.NewLoopback("test", fabric.ProgressAuto)
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	srv, err := New(cfg, reg, endpoint, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown() })
	return srv
}

func TestAllocateThenDeallocateSucceeds(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.CreateRegion(1, 4096, cmn.MemoryVolatile, cmn.PermissionRegion); err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	offset, err := srv.Allocate(1, 128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := srv.Deallocate(1, offset); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
}

func TestDeallocateUntrackedOffsetIsNotFound(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.CreateRegion(2, 4096, cmn.MemoryVolatile, cmn.PermissionRegion); err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	err := srv.Deallocate(2, 64)
	if cmn.KindOf(err) != cmn.NotFound {
		t.Fatalf("got kind %v, want NotFound for an untracked offset", cmn.KindOf(err))
	}
}

func TestDeallocateTwiceIsRejectedSecondTime(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.CreateRegion(3, 4096, cmn.MemoryVolatile, cmn.PermissionRegion); err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	offset, err := srv.Allocate(3, 128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := srv.Deallocate(3, offset); err != nil {
		t.Fatalf("first Deallocate: %v", err)
	}
	if err := srv.Deallocate(3, offset); cmn.KindOf(err) != cmn.NotFound {
		t.Fatalf("got kind %v, want NotFound on the repeat deallocate", cmn.KindOf(err))
	}
}

func TestCreateRegionFailureCleanupForgetsSizes(t *testing.T) {
	srv := newTestServer(t)

	if err := srv.CreateRegion(4, 4096, cmn.MemoryVolatile, cmn.PermissionRegion); err != nil {
		t.Fatalf("CreateRegion: %v", err)
	}
	if _, err := srv.Allocate(4, 128); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := srv.CreateRegionFailureCleanup(4); err != nil {
		t.Fatalf("CreateRegionFailureCleanup: %v", err)
	}
	if _, ok := srv.sizes[4]; ok {
		t.Errorf("expected region 4's size-tracking map to be forgotten")
	}
}
