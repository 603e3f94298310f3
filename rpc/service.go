// Package rpc defines the framework-neutral service trait (§9 "Dynamic
// dispatch across RPC frameworks"): the full §6 operation list as one Go
// interface, implemented once by *server.Server. Two adapters —
// rpc/grpcsvc and rpc/streamsvc — each own a transport and translate
// their wire requests into calls against this interface, so adding a
// third framework never touches server logic.
package rpc

import (
	"context"

	"github.com/OpenFAM/OpenFAM-sub004/atl"
	"github.com/OpenFAM/OpenFAM-sub004/backup"
	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/copyengine"
	"github.com/OpenFAM/OpenFAM-sub004/resource"
)

// Service is the §6 RPC surface, framework neutral.
type Service interface {
	SignalStart() (addr []byte, memoryType string, memserverID int)
	SignalTermination() error

	CreateRegion(regionID, size uint64, memType cmn.MemoryType, level cmn.PermissionLevel) error
	CreateRegionFailureCleanup(regionID uint64) error
	DestroyRegion(regionID uint64) (resource.State, error)
	ResizeRegion(regionID, newSize uint64) error

	Allocate(regionID, size uint64) (uint64, error)
	Deallocate(regionID, offset uint64) error

	Copy(ctx context.Context, req copyengine.Request) error

	BackupDataItem(req backup.Request) error
	RestoreDataItem(req backup.RestoreRequest) error
	GetBackupInfo(name string, uid, gid, mode uint32) (backup.Info, error)
	ListBackup(pattern string, uid, gid, mode uint32) (string, error)
	DeleteBackup(name string) error

	AcquireCASLock(offset uint64)
	ReleaseCASLock(offset uint64)

	GetLocalPointerBase(regionID, offset uint64) ([]byte, error)
	RegisterRegionMemory(regionID uint64, rw cmn.AccessMode) (uint64, error)
	OpenRegionWithRegistration(regionID uint64, rw cmn.AccessMode) ([]uint64, error)
	OpenRegionWithoutRegistration(regionID uint64) error
	CloseRegion(regionID uint64) (resource.State, error)
	GetRegionMemory(regionID uint64, rw cmn.AccessMode) (uint64, error)
	GetDataItemMemory(regionID, offset, size uint64, rw cmn.AccessMode) (uint64, error)

	PushATL(regionID, offset uint64, msg *atl.Message) error

	UpdateMemserverAddrlist(packed [][]byte) error
}
