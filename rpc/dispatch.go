package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/OpenFAM/OpenFAM-sub004/atl"
	"github.com/OpenFAM/OpenFAM-sub004/backup"
	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/copyengine"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// Dispatch is the op-name switch translating a decoded wire envelope into
// a typed Service call, per §9 "each adapter maps request records to
// service-trait calls". Both rpc/grpcsvc and rpc/streamsvc decode their
// transport's bytes into (op, payload) and call this directly, so the
// op surface exists exactly once regardless of how many frameworks front
// it.
func Dispatch(ctx context.Context, svc Service, op string, payload json.RawMessage) (interface{}, error) {
	return dispatch(ctx, svc, envelope{Op: op, Payload: payload})
}

func dispatch(ctx context.Context, svc Service, env envelope) (interface{}, error) {
	switch env.Op {
	case "signal_start":
		addr, memType, memID := svc.SignalStart()
		return signalStartResp{AddrBase64: encodeBytes(addr), MemoryType: memType, MemserverID: memID}, nil

	case "signal_termination":
		return nil, svc.SignalTermination()

	case "create_region":
		var req createRegionReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		memType := cmn.MemoryVolatile
		if !req.Volatile {
			memType = cmn.MemoryPersistent
		}
		level := cmn.PermissionRegion
		if req.PerItem {
			level = cmn.PermissionDataItem
		}
		return nil, svc.CreateRegion(req.RegionID, req.Size, memType, level)

	case "create_region_failure_cleanup":
		var req regionIDReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.CreateRegionFailureCleanup(req.RegionID)

	case "destroy_region":
		var req regionIDReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		state, err := svc.DestroyRegion(req.RegionID)
		if err != nil {
			return nil, err
		}
		return textResp{Text: state.String()}, nil

	case "resize_region":
		var req resizeRegionReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.ResizeRegion(req.RegionID, req.NewSize)

	case "allocate":
		var req allocateReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		offset, err := svc.Allocate(req.RegionID, req.Size)
		if err != nil {
			return nil, err
		}
		return allocateResp{Offset: offset}, nil

	case "deallocate":
		var req deallocateReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.Deallocate(req.RegionID, req.Offset)

	case "copy":
		var req copyengine.Request
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.Copy(ctx, req)

	case "backup":
		var req backup.Request
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.BackupDataItem(req)

	case "restore":
		var req backup.RestoreRequest
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.RestoreDataItem(req)

	case "get_backup_info":
		var req backupNameReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		info, err := svc.GetBackupInfo(req.Name, req.UID, req.GID, req.Mode)
		if err != nil {
			return nil, err
		}
		return backupInfoResp(info), nil

	case "list_backup":
		var req listBackupReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		text, err := svc.ListBackup(req.Pattern, req.UID, req.GID, req.Mode)
		if err != nil {
			return nil, err
		}
		return textResp{Text: text}, nil

	case "delete_backup":
		var req backupNameReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.DeleteBackup(req.Name)

	case "acquire_cas_lock":
		var req casLockReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		svc.AcquireCASLock(req.Offset)
		return nil, nil

	case "release_cas_lock":
		var req casLockReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		svc.ReleaseCASLock(req.Offset)
		return nil, nil

	case "get_local_pointer":
		var req rwReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		base, err := svc.GetLocalPointerBase(req.RegionID, req.Offset)
		if err != nil {
			return nil, err
		}
		return bytesResp{Base64: encodeBytes(base)}, nil

	case "register_region_memory":
		var req rwReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		key, err := svc.RegisterRegionMemory(req.RegionID, accessMode(req.RW))
		if err != nil {
			return nil, err
		}
		return keyResp{Key: key}, nil

	case "open_region_with_registration":
		var req rwReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		keys, err := svc.OpenRegionWithRegistration(req.RegionID, accessMode(req.RW))
		if err != nil {
			return nil, err
		}
		return keysResp{Keys: keys}, nil

	case "open_region_without_registration":
		var req regionIDReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		return nil, svc.OpenRegionWithoutRegistration(req.RegionID)

	case "close_region":
		var req regionIDReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		state, err := svc.CloseRegion(req.RegionID)
		if err != nil {
			return nil, err
		}
		return textResp{Text: state.String()}, nil

	case "get_region_memory":
		var req rwReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		key, err := svc.GetRegionMemory(req.RegionID, accessMode(req.RW))
		if err != nil {
			return nil, err
		}
		return keyResp{Key: key}, nil

	case "get_dataitem_memory":
		var req rwReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		key, err := svc.GetDataItemMemory(req.RegionID, req.Offset, req.Size, accessMode(req.RW))
		if err != nil {
			return nil, err
		}
		return keyResp{Key: key}, nil

	case "get_atomic":
		return dispatchAtomic(svc, env, atl.AtomicFetch)
	case "put_atomic":
		return dispatchAtomic(svc, env, atl.AtomicSet)
	case "scatter_atomic":
		return nil, dispatchBulk(svc, env, atl.FlagScatterStride)
	case "gather_atomic":
		return nil, dispatchBulk(svc, env, atl.FlagGatherStride)

	case "update_memserver_addrlist":
		var req addrListReq
		if err := unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		packed := make([][]byte, len(req.PackedBase64))
		for i, s := range req.PackedBase64 {
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, cmn.Wrap(err, cmn.InvalidArgument, "rpc: bad base64 address")
			}
			packed[i] = raw
		}
		return nil, svc.UpdateMemserverAddrlist(packed)

	default:
		xlog.Warningf("rpc: unknown op %q", env.Op)
		return nil, cmn.NewError(cmn.Unimplemented, "unknown op %q", env.Op)
	}
}

func unmarshal(payload json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return cmn.Wrap(err, cmn.InvalidArgument, "rpc: malformed request payload")
	}
	return nil
}
