// DTOs for the wire envelope shared by every rpc.Service adapter. Each
// adapter (grpcsvc, streamsvc) decodes its transport's bytes into an
// (op, payload) envelope and calls Dispatch, which decodes the payload
// into these per-op request/response records; nothing here is
// transport-specific.
package rpc

import (
	"encoding/base64"
	"encoding/json"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// envelope is the JSON payload carried inside an adapter's wire message.
type envelope struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type createRegionReq struct {
	RegionID uint64 `json:"region_id"`
	Size     uint64 `json:"size"`
	Volatile bool   `json:"volatile"`
	PerItem  bool   `json:"per_item_permission"`
}

type regionIDReq struct {
	RegionID uint64 `json:"region_id"`
}

type resizeRegionReq struct {
	RegionID uint64 `json:"region_id"`
	NewSize  uint64 `json:"new_size"`
}

type allocateReq struct {
	RegionID uint64 `json:"region_id"`
	Size     uint64 `json:"size"`
}

type allocateResp struct {
	Offset uint64 `json:"offset"`
}

type deallocateReq struct {
	RegionID uint64 `json:"region_id"`
	Offset   uint64 `json:"offset"`
}

type rwReq struct {
	RegionID uint64 `json:"region_id"`
	Offset   uint64 `json:"offset,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	RW       bool   `json:"rw"`
}

func accessMode(rw bool) cmn.AccessMode {
	if rw {
		return cmn.AccessRW
	}
	return cmn.AccessRO
}

type keyResp struct {
	Key uint64 `json:"key"`
}

type keysResp struct {
	Keys []uint64 `json:"keys"`
}

type bytesResp struct {
	Base64 string `json:"base64"`
}

func encodeBytes(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

type signalStartResp struct {
	AddrBase64  string `json:"addr_base64"`
	MemoryType  string `json:"memory_type"`
	MemserverID int    `json:"memserver_id"`
}

type backupNameReq struct {
	Name string `json:"name"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
	Mode uint32 `json:"mode"`
}

type backupInfoResp struct {
	Name string `json:"name"`
	Mode uint32 `json:"mode"`
	Size uint64 `json:"size"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
}

type listBackupReq struct {
	Pattern string `json:"pattern"`
	UID     uint32 `json:"uid"`
	GID     uint32 `json:"gid"`
	Mode    uint32 `json:"mode"`
}

type textResp struct {
	Text string `json:"text"`
}

type casLockReq struct {
	Offset uint64 `json:"offset"`
}

type addrListReq struct {
	PackedBase64 []string `json:"packed_base64"`
}

// atomicReq carries the get/put/scatter/gather_atomic RPC fields (§6):
// get_atomic/put_atomic become a FlagAtomic fetch/set, scatter_atomic and
// gather_atomic become the bulk strided transfers.
type atomicReq struct {
	RegionID         uint64 `json:"region_id"`
	Offset           uint64 `json:"offset"`
	Width            string `json:"width"` // int32|int64|uint32|uint64|float32|float64
	ClientAddrBase64 string `json:"client_addr_base64"`
	ClientMemoryKey  uint64 `json:"client_memory_key"`
	OperandBase64    string `json:"operand_base64,omitempty"`
	FirstElement     uint64 `json:"first_element,omitempty"`
	Stride           uint64 `json:"stride,omitempty"`
	ElementSize      uint64 `json:"element_size,omitempty"`
	NElements        uint64 `json:"n_elements,omitempty"`
}

type atomicResp struct {
	PreviousBase64 string `json:"previous_base64,omitempty"`
}
