package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/OpenFAM/OpenFAM-sub004/atl"
	"github.com/OpenFAM/OpenFAM-sub004/backup"
	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/copyengine"
	"github.com/OpenFAM/OpenFAM-sub004/resource"
)

// fakeService is a hand-wired rpc.Service recording what was called, so
// Dispatch's op-name-to-method translation can be checked without
// standing up a real server.Server.
type fakeService struct {
	allocRegion uint64
	allocSize   uint64
	allocOffset uint64
	allocErr    error

	pushedRegion uint64
	pushedOffset uint64
	pushedMsg    *atl.Message
}

func (f *fakeService) SignalStart() ([]byte, string, int) { return []byte{1, 2, 3}, "volatile", 0 }
func (f *fakeService) SignalTermination() error            { return nil }
func (f *fakeService) CreateRegion(uint64, uint64, cmn.MemoryType, cmn.PermissionLevel) error {
	return nil
}
func (f *fakeService) CreateRegionFailureCleanup(uint64) error { return nil }
func (f *fakeService) DestroyRegion(uint64) (resource.State, error) {
	return resource.State(0), nil
}
func (f *fakeService) ResizeRegion(uint64, uint64) error { return nil }
func (f *fakeService) Allocate(regionID, size uint64) (uint64, error) {
	f.allocRegion, f.allocSize = regionID, size
	return f.allocOffset, f.allocErr
}
func (f *fakeService) Deallocate(uint64, uint64) error                         { return nil }
func (f *fakeService) Copy(context.Context, copyengine.Request) error         { return nil }
func (f *fakeService) BackupDataItem(backup.Request) error                    { return nil }
func (f *fakeService) RestoreDataItem(backup.RestoreRequest) error            { return nil }
func (f *fakeService) GetBackupInfo(string, uint32, uint32, uint32) (backup.Info, error) {
	return backup.Info{}, nil
}
func (f *fakeService) ListBackup(string, uint32, uint32, uint32) (string, error) { return "", nil }
func (f *fakeService) DeleteBackup(string) error                                { return nil }
func (f *fakeService) AcquireCASLock(uint64)                                    {}
func (f *fakeService) ReleaseCASLock(uint64)                                    {}
func (f *fakeService) GetLocalPointerBase(uint64, uint64) ([]byte, error)        { return nil, nil }
func (f *fakeService) RegisterRegionMemory(uint64, cmn.AccessMode) (uint64, error) {
	return 0, nil
}
func (f *fakeService) OpenRegionWithRegistration(uint64, cmn.AccessMode) ([]uint64, error) {
	return nil, nil
}
func (f *fakeService) OpenRegionWithoutRegistration(uint64) error { return nil }
func (f *fakeService) CloseRegion(uint64) (resource.State, error) {
	return resource.State(0), nil
}
func (f *fakeService) GetRegionMemory(uint64, cmn.AccessMode) (uint64, error) { return 0, nil }
func (f *fakeService) GetDataItemMemory(uint64, uint64, uint64, cmn.AccessMode) (uint64, error) {
	return 0, nil
}
func (f *fakeService) PushATL(regionID, offset uint64, msg *atl.Message) error {
	f.pushedRegion, f.pushedOffset, f.pushedMsg = regionID, offset, msg
	msg.Flag |= atl.FlagWriteCompleted
	return nil
}
func (f *fakeService) UpdateMemserverAddrlist([][]byte) error { return nil }

var _ Service = (*fakeService)(nil)

func TestDispatchAllocateRoutesToService(t *testing.T) {
	svc := &fakeService{allocOffset: 4096}
	payload, _ := json.Marshal(allocateReq{RegionID: 7, Size: 256})

	result, err := Dispatch(context.Background(), svc, "allocate", payload)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	resp, ok := result.(allocateResp)
	if !ok {
		t.Fatalf("expected allocateResp, got %T", result)
	}
	if resp.Offset != 4096 {
		t.Errorf("got offset %d, want 4096", resp.Offset)
	}
	if svc.allocRegion != 7 || svc.allocSize != 256 {
		t.Errorf("service saw (%d, %d), want (7, 256)", svc.allocRegion, svc.allocSize)
	}
}

func TestDispatchUnknownOpIsUnimplemented(t *testing.T) {
	_, err := Dispatch(context.Background(), &fakeService{}, "no_such_op", nil)
	if cmn.KindOf(err) != cmn.Unimplemented {
		t.Fatalf("got kind %v, want Unimplemented", cmn.KindOf(err))
	}
}

func TestDispatchMalformedPayloadIsInvalidArgument(t *testing.T) {
	_, err := Dispatch(context.Background(), &fakeService{}, "allocate", json.RawMessage(`{not json`))
	if cmn.KindOf(err) != cmn.InvalidArgument {
		t.Fatalf("got kind %v, want InvalidArgument", cmn.KindOf(err))
	}
}

func TestDispatchGetAtomicWaitsForCompletion(t *testing.T) {
	svc := &fakeService{}
	payload, _ := json.Marshal(atomicReq{RegionID: 1, Offset: 8, Width: "uint64"})

	result, err := Dispatch(context.Background(), svc, "get_atomic", payload)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if _, ok := result.(atomicResp); !ok {
		t.Fatalf("expected atomicResp, got %T", result)
	}
	if svc.pushedMsg == nil || svc.pushedMsg.AtomicOp != atl.AtomicFetch {
		t.Fatalf("expected a pushed AtomicFetch message, got %+v", svc.pushedMsg)
	}
}

func TestDispatchGetAtomicUnknownWidth(t *testing.T) {
	payload, _ := json.Marshal(atomicReq{RegionID: 1, Offset: 8, Width: "nonsense"})
	_, err := Dispatch(context.Background(), &fakeService{}, "get_atomic", payload)
	if cmn.KindOf(err) != cmn.InvalidArgument {
		t.Fatalf("got kind %v, want InvalidArgument", cmn.KindOf(err))
	}
}
