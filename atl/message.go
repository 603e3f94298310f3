package atl

import "github.com/OpenFAM/OpenFAM-sub004/cmn"

// Flag is the message header's bitset (§4.F "Message record").
type Flag uint32

const (
	FlagRead Flag = 1 << iota
	FlagWrite
	FlagScatterStride
	FlagScatterIndex
	FlagGatherStride
	FlagGatherIndex
	FlagAtomic // supplemented scalar-atomic dispatch (§12)
	FlagWriteInProgress
	FlagWriteCompleted
	FlagBufferAllocated
	FlagContainData
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// AtomicOp is the scalar operation requested by a FlagAtomic message,
// carried over from original_source's fam_c.h scalar atomic surface
// (§12 supplemented features).
type AtomicOp int

const (
	AtomicFetch AtomicOp = iota
	AtomicSet
	AtomicAdd
	AtomicSubtract
	AtomicMin
	AtomicMax
	AtomicCompareSwap
)

// Width is the scalar type a FlagAtomic message operates on.
type Width int

const (
	WidthInt32 Width = iota
	WidthInt64
	WidthUint32
	WidthUint64
	WidthFloat32
	WidthFloat64
)

// Operands mirrors §4.F's operation_operands tuple used by the
// strided/indexed scatter-gather ops.
type Operands struct {
	Size         uint64
	FirstElement uint64
	Stride       uint64
	ElementSize  uint64
	NElements    uint64
}

// Message is one fixed-size ATL request/response slot (§4.F "Message
// record"). In a from-scratch C implementation this record lives inside
// the reserved ATOMIC_REGION_ID pool alongside the queue's control
// block; here it is a plain Go struct referencing that same pool through
// TargetRegionID/TargetOffset, since Go's GC already gives every message
// a stable address for the lifetime of its queue slot.
type Message struct {
	Flag Flag

	ClientFabricAddress    [cmn.MaxNodeAddrSize]byte
	ClientFabricAddressLen uint32

	TargetRegionID uint64
	TargetOffset   uint64

	ClientMemoryKey    uint64
	ClientBaseAddr     uint64
	ClientBufferOffset uint64

	Operands Operands

	// Inline carries the payload when Operands.Size < MAX_DATA_IN_MSG
	// (§4.F "Small payloads ... are inlined"), and is also where
	// FlagAtomic fetch results and compare-swap previous-values are
	// returned to the caller.
	Inline [cmn.MaxDataInMsg]byte

	// AtomicOp/Width/CompareValue are only meaningful when Flag has
	// FlagAtomic set (§12 supplement).
	AtomicOp     AtomicOp
	Width        Width
	CompareValue [8]byte // expected value for AtomicCompareSwap

	Err error
}
