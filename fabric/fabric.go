// Package fabric specifies the usage contract this core depends on from
// libfabric: thread model (progress must be driven, either automatically
// by the provider or manually by a dedicated thread — see the progress
// package), registration keys (possibly rewritten by the provider), and
// the RDMA read/write/atomic/fence primitives the copy engine and ATL
// issue. §1 treats the libfabric wrapper itself as an external
// collaborator; this package is the contract, not an implementation of
// libfabric — no pure-Go libfabric binding exists in this project's
// dependency pack (libfabric is a C library; a production adapter would
// bind it via cgo). Package `fabric` ships one concrete implementation,
// Loopback, a same-process fake used by tests and local development that
// honors the same contract by copying directly between registered byte
// slices instead of issuing real RDMA.
/*
 * Copyright (c) 2018, NVIDIA CORPORATION. All rights reserved.
 */
package fabric

import "context"

// ProgressMode reports whether the provider drives completion progress
// automatically (AUTO) or requires a dedicated caller thread to poll for
// it (MANUAL), per §4.G.
type ProgressMode int

const (
	ProgressAuto ProgressMode = iota
	ProgressManual
)

// AccessMode mirrors cmn.AccessMode without importing cmn, keeping this
// package a leaf the way the teacher's 3rdparty wrappers are leaves.
type AccessMode int

const (
	AccessRO AccessMode = iota
	AccessRW
)

// MemoryRegion is a registered window: the fabric-assigned key (which may
// differ from the caller's requested bit-packed key — see §3) and,
// for providers that require it, a base address clients must present
// alongside the key (§9 "Known ambiguities": isBaseRequire).
type MemoryRegion struct {
	Key        uint64
	BaseAddr   uint64
	HasBase    bool
	local      []byte // backing bytes, Loopback only
}

// CompletionHandle represents one outstanding RDMA operation. Wait blocks
// until the operation completes or fails.
type CompletionHandle interface {
	Wait(ctx context.Context) error
}

// Endpoint is the per-process fabric endpoint: registers/deregisters
// memory, issues RDMA reads/writes/atomics, and exposes fence/quiet as
// the client-facing sequencing primitives (§5 Ordering — "the server
// orders nothing globally beyond what fabric guarantees").
type Endpoint interface {
	// Mode reports whether this provider needs a manual progress thread.
	Mode() ProgressMode
	// Progress drives one round of completion processing; a no-op for
	// AUTO-mode providers, required in a tight loop for MANUAL ones.
	Progress()

	// RegisterMemory registers base[:size] for rw access, requesting the
	// given key; the provider may return a different key (§3).
	RegisterMemory(requestedKey uint64, base []byte, rw AccessMode) (*MemoryRegion, error)
	// Deregister releases a previously registered window.
	Deregister(mr *MemoryRegion) error

	// Read issues an RDMA read of size bytes from (key, remoteOffset) on
	// the peer identified by addr into local, returning a handle whose
	// Wait observes completion.
	Read(addr PeerAddr, key uint64, remoteOffset uint64, local []byte) (CompletionHandle, error)
	// Write issues an RDMA write of local into (key, remoteOffset) on the
	// peer identified by addr.
	Write(addr PeerAddr, key uint64, remoteOffset uint64, local []byte) (CompletionHandle, error)

	// Fence ensures prior operations on addr are ordered before
	// subsequent ones; Quiet blocks until all outstanding operations on
	// addr complete (§4 Glossary, client-facing sequencing primitives).
	Fence(addr PeerAddr) error
	Quiet(addr PeerAddr) error

	// LocalAddr returns this endpoint's own address, sent to clients on
	// signal_start (§6).
	LocalAddr() PeerAddr
	// Resolve inserts addrBytes into the address vector (serialized by
	// fiAddrLock per §5) and returns a PeerAddr usable for Read/Write.
	Resolve(addrBytes []byte) (PeerAddr, error)

	Close() error
}

// PeerAddr is an opaque, provider-resolved peer address (the client
// fabric address carried inline on ATL messages per §4.F).
type PeerAddr struct {
	id   uint64
	name string
}

func (p PeerAddr) String() string { return p.name }
