package grpcsvc

import (
	"context"
	"encoding/json"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/OpenFAM/OpenFAM-sub004/atl"
	"github.com/OpenFAM/OpenFAM-sub004/backup"
	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/copyengine"
	"github.com/OpenFAM/OpenFAM-sub004/resource"
)

type fakeService struct{}

func (f *fakeService) SignalStart() ([]byte, string, int) { return nil, "volatile", 0 }
func (f *fakeService) SignalTermination() error            { return nil }
func (f *fakeService) CreateRegion(uint64, uint64, cmn.MemoryType, cmn.PermissionLevel) error {
	return nil
}
func (f *fakeService) CreateRegionFailureCleanup(uint64) error { return nil }
func (f *fakeService) DestroyRegion(uint64) (resource.State, error) {
	return resource.State(0), nil
}
func (f *fakeService) ResizeRegion(uint64, uint64) error           { return nil }
func (f *fakeService) Allocate(uint64, uint64) (uint64, error)     { return 0, nil }
func (f *fakeService) Deallocate(uint64, uint64) error             { return nil }
func (f *fakeService) Copy(context.Context, copyengine.Request) error { return nil }
func (f *fakeService) BackupDataItem(backup.Request) error         { return nil }
func (f *fakeService) RestoreDataItem(backup.RestoreRequest) error { return nil }
func (f *fakeService) GetBackupInfo(string, uint32, uint32, uint32) (backup.Info, error) {
	return backup.Info{}, cmn.NewError(cmn.NoPermission, "denied")
}
func (f *fakeService) ListBackup(string, uint32, uint32, uint32) (string, error) { return "", nil }
func (f *fakeService) DeleteBackup(string) error                                { return nil }
func (f *fakeService) AcquireCASLock(uint64)                                    {}
func (f *fakeService) ReleaseCASLock(uint64)                                    {}
func (f *fakeService) GetLocalPointerBase(uint64, uint64) ([]byte, error)       { return nil, nil }
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
func (f *fakeService) PushATL(uint64, uint64, *atl.Message) error { return nil }
func (f *fakeService) UpdateMemserverAddrlist([][]byte) error     { return nil }

func TestInvokeRoundTripsJSONEnvelope(t *testing.T) {
	a := New(&fakeService{})
	raw, _ := json.Marshal(envelope{Op: "signal_termination"})

	out, err := a.invoke(context.Background(), raw)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(out) != "null" {
		t.Errorf("got %q, want null for a nil-result op", out)
	}
}

func TestInvokeMapsServiceErrorToGRPCStatus(t *testing.T) {
	a := New(&fakeService{})
	raw, _ := json.Marshal(envelope{Op: "get_backup_info", Payload: mustJSON(t, map[string]string{"name": "x"})})

	_, err := a.invoke(context.Background(), raw)
	if err == nil {
		t.Fatal("expected an error")
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a grpc status error, got %v", err)
	}
	if st.Code() != codes.PermissionDenied {
		t.Errorf("got code %v, want PermissionDenied", st.Code())
	}
}

func TestInvokeMalformedEnvelope(t *testing.T) {
	a := New(&fakeService{})
	_, err := a.invoke(context.Background(), []byte(`{not json`))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.InvalidArgument {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
