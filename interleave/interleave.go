// Package interleave implements Component D, the interleave decomposer
// (§4.D): given a byte range within a data item striped across N
// servers, it produces the sequence of per-server chunks the copy engine
// and ATL need, without allocating.
package interleave

import "github.com/OpenFAM/OpenFAM-sub004/cmn"

// Chunk describes one per-server piece of a decomposed byte range (§4.D).
// LocalOffset is relative to the start of the range passed to Decompose,
// i.e. the offset into the caller's local buffer this chunk fills.
type Chunk struct {
	ServerIndex  int
	RemoteOffset uint64
	LocalOffset  uint64
	Size         uint64
	// Local is true when ServerIndex is the server performing the
	// decomposition, meaning the chunk is serviced by memcpy rather than
	// an RDMA read (§4.D "A chunk whose source server equals this server
	// is a memcpy; a chunk on another server is an RDMA read.").
	Local bool
}

// Emit receives chunks in ascending LocalOffset order. The decomposer
// never buffers a chunk list; it calls Emit once per chunk.
type Emit func(Chunk)

// Decompose produces the chunk sequence covering [start, end) of a data
// item striped across srcN servers with stripe size srcStripe, as seen
// from thisServer (§4.D).
//
// If srcN == 1 the whole range is a single chunk (no splitting is
// possible with only one source server). Otherwise each chunk is clipped
// to the next stripe boundary, which naturally produces an unaligned
// head chunk (if start isn't stripe-aligned), full srcStripe-sized
// chunks, and a trailing partial tail chunk, matching §4.D's head/stripe/tail
// rule without needing to special-case any of the three.
func Decompose(start, end uint64, srcN int, srcStripe uint64, thisServer int, emit Emit) {
	if end <= start {
		return
	}
	if srcN <= 1 {
		emit(Chunk{
			ServerIndex:  0,
			RemoteOffset: start,
			LocalOffset:  0,
			Size:         end - start,
			Local:        thisServer == 0,
		})
		return
	}

	b := start
	for b < end {
		stripeStart := (b / srcStripe) * srcStripe
		stripeEnd := stripeStart + srcStripe
		segEnd := stripeEnd
		if segEnd > end {
			segEnd = end
		}

		serverIdx := cmn.StripeIndex(b, srcStripe, srcN)
		blockIdx := cmn.BlockIndex(b, srcStripe, srcN)
		remoteOffset := blockIdx*srcStripe + cmn.OffsetInBlock(b, srcStripe)

		emit(Chunk{
			ServerIndex:  serverIdx,
			RemoteOffset: remoteOffset,
			LocalOffset:  b - start,
			Size:         segEnd - b,
			Local:        serverIdx == thisServer,
		})
		b = segEnd
	}
}

// LocalBufferSize is the size the copy engine offers per destination
// stripe: dstStripe, unless the destination spans only one server (dstN
// == 1), in which case it's the entire remaining range (§4.D "The local
// buffer size offered per destination stripe...").
func LocalBufferSize(dstN int, dstStripe, remaining uint64) uint64 {
	if dstN <= 1 || dstStripe > remaining {
		return remaining
	}
	return dstStripe
}
