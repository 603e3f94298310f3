package atl

import (
	"encoding/binary"
	"math"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// applyScalarAtomic executes a FlagAtomic message against fam (the
// local bytes at msg.TargetOffset), dispatched by width exactly as
// original_source/include/fam/fam_c.h enumerates its scalar ops: fetch,
// set, add, subtract, min, max, compare_swap over int32/int64/uint32/
// uint64/float/double (§12 supplemented features). The previous value
// is always returned in msg.Inline so get-style semantics are uniform
// across ops.
func applyScalarAtomic(fam []byte, msg *Message) error {
	switch msg.Width {
	case WidthInt32:
		return applyInt32(fam, msg)
	case WidthInt64:
		return applyInt64(fam, msg)
	case WidthUint32:
		return applyUint32(fam, msg)
	case WidthUint64:
		return applyUint64(fam, msg)
	case WidthFloat32:
		return applyFloat32(fam, msg)
	case WidthFloat64:
		return applyFloat64(fam, msg)
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic width %d", msg.Width)
	}
}

func applyInt32(fam []byte, msg *Message) error {
	if len(fam) < 4 {
		return cmn.NewError(cmn.OutOfRange, "atl: int32 atomic out of range")
	}
	cur := int32(binary.LittleEndian.Uint32(fam))
	operand := int32(binary.LittleEndian.Uint32(msg.Inline[:4]))
	var next int32
	switch msg.AtomicOp {
	case AtomicFetch:
		next = cur
	case AtomicSet:
		next = operand
	case AtomicAdd:
		next = cur + operand
	case AtomicSubtract:
		next = cur - operand
	case AtomicMin:
		next = minInt32(cur, operand)
	case AtomicMax:
		next = maxInt32(cur, operand)
	case AtomicCompareSwap:
		expect := int32(binary.LittleEndian.Uint32(msg.CompareValue[:4]))
		next = cur
		if cur == expect {
			next = operand
		}
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic op %d", msg.AtomicOp)
	}
	binary.LittleEndian.PutUint32(fam, uint32(next))
	binary.LittleEndian.PutUint32(msg.Inline[:4], uint32(cur))
	return nil
}

func applyInt64(fam []byte, msg *Message) error {
	if len(fam) < 8 {
		return cmn.NewError(cmn.OutOfRange, "atl: int64 atomic out of range")
	}
	cur := int64(binary.LittleEndian.Uint64(fam))
	operand := int64(binary.LittleEndian.Uint64(msg.Inline[:8]))
	var next int64
	switch msg.AtomicOp {
	case AtomicFetch:
		next = cur
	case AtomicSet:
		next = operand
	case AtomicAdd:
		next = cur + operand
	case AtomicSubtract:
		next = cur - operand
	case AtomicMin:
		next = minInt64(cur, operand)
	case AtomicMax:
		next = maxInt64(cur, operand)
	case AtomicCompareSwap:
		expect := int64(binary.LittleEndian.Uint64(msg.CompareValue[:8]))
		next = cur
		if cur == expect {
			next = operand
		}
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic op %d", msg.AtomicOp)
	}
	binary.LittleEndian.PutUint64(fam, uint64(next))
	binary.LittleEndian.PutUint64(msg.Inline[:8], uint64(cur))
	return nil
}

func applyUint32(fam []byte, msg *Message) error {
	if len(fam) < 4 {
		return cmn.NewError(cmn.OutOfRange, "atl: uint32 atomic out of range")
	}
	cur := binary.LittleEndian.Uint32(fam)
	operand := binary.LittleEndian.Uint32(msg.Inline[:4])
	var next uint32
	switch msg.AtomicOp {
	case AtomicFetch:
		next = cur
	case AtomicSet:
		next = operand
	case AtomicAdd:
		next = cur + operand
	case AtomicSubtract:
		next = cur - operand
	case AtomicMin:
		next = minUint32(cur, operand)
	case AtomicMax:
		next = maxUint32(cur, operand)
	case AtomicCompareSwap:
		expect := binary.LittleEndian.Uint32(msg.CompareValue[:4])
		next = cur
		if cur == expect {
			next = operand
		}
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic op %d", msg.AtomicOp)
	}
	binary.LittleEndian.PutUint32(fam, next)
	binary.LittleEndian.PutUint32(msg.Inline[:4], cur)
	return nil
}

func applyUint64(fam []byte, msg *Message) error {
	if len(fam) < 8 {
		return cmn.NewError(cmn.OutOfRange, "atl: uint64 atomic out of range")
	}
	cur := binary.LittleEndian.Uint64(fam)
	operand := binary.LittleEndian.Uint64(msg.Inline[:8])
	var next uint64
	switch msg.AtomicOp {
	case AtomicFetch:
		next = cur
	case AtomicSet:
		next = operand
	case AtomicAdd:
		next = cur + operand
	case AtomicSubtract:
		next = cur - operand
	case AtomicMin:
		next = minUint64(cur, operand)
	case AtomicMax:
		next = maxUint64(cur, operand)
	case AtomicCompareSwap:
		expect := binary.LittleEndian.Uint64(msg.CompareValue[:8])
		next = cur
		if cur == expect {
			next = operand
		}
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic op %d", msg.AtomicOp)
	}
	binary.LittleEndian.PutUint64(fam, next)
	binary.LittleEndian.PutUint64(msg.Inline[:8], cur)
	return nil
}

func applyFloat32(fam []byte, msg *Message) error {
	if len(fam) < 4 {
		return cmn.NewError(cmn.OutOfRange, "atl: float32 atomic out of range")
	}
	cur := math.Float32frombits(binary.LittleEndian.Uint32(fam))
	operand := math.Float32frombits(binary.LittleEndian.Uint32(msg.Inline[:4]))
	var next float32
	switch msg.AtomicOp {
	case AtomicFetch:
		next = cur
	case AtomicSet:
		next = operand
	case AtomicAdd:
		next = cur + operand
	case AtomicSubtract:
		next = cur - operand
	case AtomicMin:
		next = float32(math.Min(float64(cur), float64(operand)))
	case AtomicMax:
		next = float32(math.Max(float64(cur), float64(operand)))
	case AtomicCompareSwap:
		expect := math.Float32frombits(binary.LittleEndian.Uint32(msg.CompareValue[:4]))
		next = cur
		if cur == expect {
			next = operand
		}
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic op %d", msg.AtomicOp)
	}
	binary.LittleEndian.PutUint32(fam, math.Float32bits(next))
	binary.LittleEndian.PutUint32(msg.Inline[:4], math.Float32bits(cur))
	return nil
}

func applyFloat64(fam []byte, msg *Message) error {
	if len(fam) < 8 {
		return cmn.NewError(cmn.OutOfRange, "atl: float64 atomic out of range")
	}
	cur := math.Float64frombits(binary.LittleEndian.Uint64(fam))
	operand := math.Float64frombits(binary.LittleEndian.Uint64(msg.Inline[:8]))
	var next float64
	switch msg.AtomicOp {
	case AtomicFetch:
		next = cur
	case AtomicSet:
		next = operand
	case AtomicAdd:
		next = cur + operand
	case AtomicSubtract:
		next = cur - operand
	case AtomicMin:
		next = math.Min(cur, operand)
	case AtomicMax:
		next = math.Max(cur, operand)
	case AtomicCompareSwap:
		expect := math.Float64frombits(binary.LittleEndian.Uint64(msg.CompareValue[:8]))
		next = cur
		if cur == expect {
			next = operand
		}
	default:
		return cmn.NewError(cmn.Unimplemented, "atl: unknown atomic op %d", msg.AtomicOp)
	}
	binary.LittleEndian.PutUint64(fam, math.Float64bits(next))
	binary.LittleEndian.PutUint64(msg.Inline[:8], math.Float64bits(cur))
	return nil
}

func minInt32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
