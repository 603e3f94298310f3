// Package server wires every core component into a single Server value
// threaded through every operation, instead of free-standing package
// globals (§9 "Global mutable state"): the pool allocator, registration
// map, resource manager, copy engine, ATL manager, progress driver and
// backup manager all hang off one Server, constructed once at startup.
package server

import (
	"context"
	"strconv"
	"sync"

	"github.com/OpenFAM/OpenFAM-sub004/atl"
	"github.com/OpenFAM/OpenFAM-sub004/backup"
	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/config"
	"github.com/OpenFAM/OpenFAM-sub004/copyengine"
	"github.com/OpenFAM/OpenFAM-sub004/fabric"
	"github.com/OpenFAM/OpenFAM-sub004/metrics"
	"github.com/OpenFAM/OpenFAM-sub004/pool"
	"github.com/OpenFAM/OpenFAM-sub004/progress"
	"github.com/OpenFAM/OpenFAM-sub004/regmap"
	"github.com/OpenFAM/OpenFAM-sub004/resource"
	"github.com/OpenFAM/OpenFAM-sub004/rpc"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// Server implements the full rpc.Service trait.
var _ rpc.Service = (*Server)(nil)

// Server is the memory server core: every RPC handler in rpc.Service is
// a thin translation layer over a method on this type.
type Server struct {
	cfg      *config.Config
	metrics  *metrics.Registry
	endpoint fabric.Endpoint
	memIndex int

	Allocator *pool.Allocator
	RegMap    *regmap.Map
	Resources *resource.Manager
	CopyEng   *copyengine.Engine
	ATL       *atl.Manager
	Progress  *progress.Driver
	Backup    *backup.Manager

	sizesMu sync.Mutex
	sizes   map[uint64]map[uint64]uint64 // regionID -> offset -> size, populated on Allocate

	addrMu    sync.Mutex
	memAddrs  map[int]fabric.PeerAddr
}

// New constructs a Server from a loaded Config, a fabric endpoint (the
// Loopback fake for tests/local development, per fabric's package doc),
// and this process's memserver index within the Memservers list.
func New(cfg *config.Config, reg *metrics.Registry, endpoint fabric.Endpoint, memIndex int) (*Server, error) {
	alloc := pool.NewAllocator(cfg.DelayedFreeThreads, famPathFor(cfg, memIndex), reg)
	rm := regmap.New(endpoint)
	resources := resource.NewManager(alloc, rm)
	ce := copyengine.New(alloc, endpoint, memIndex, reg)

	var atlMgr *atl.Manager
	if cfg.ATLEnabled() {
		atlMgr = atl.NewManager(cfg.ATLThreads, cfg.ATLQueueSize, alloc, endpoint, reg)
		atlMgr.Start()
	} else {
		atlMgr = atl.NewManager(0, cfg.ATLQueueSize, alloc, endpoint, reg)
	}

	var progressDriver *progress.Driver
	if endpoint.Mode() == fabric.ProgressManual {
		progressDriver = progress.New(endpoint)
		progressDriver.Start()
	}

	backupMgr, err := backup.New(cfg.FamBackupPath, alloc)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		metrics:   reg,
		endpoint:  endpoint,
		memIndex:  memIndex,
		Allocator: alloc,
		RegMap:    rm,
		Resources: resources,
		CopyEng:   ce,
		ATL:       atlMgr,
		Progress:  progressDriver,
		Backup:    backupMgr,
		sizes:     make(map[uint64]map[uint64]uint64),
		memAddrs:  make(map[int]fabric.PeerAddr),
	}, nil
}

func famPathFor(cfg *config.Config, memIndex int) string {
	if mc, ok := cfg.Memservers[strconv.Itoa(memIndex)]; ok && mc.FamPath != "" {
		return mc.FamPath
	}
	return cfg.FamBackupPath + "/../fam"
}

// Shutdown halts the progress driver, stops ATL workers, closes the
// backup catalog and the allocator's delayed-free shards, and closes the
// fabric endpoint, in that order (§5 "Shutdown is coordinated by setting
// halt flags, closing fabric endpoints, joining every worker").
func (s *Server) Shutdown() error {
	if s.Progress != nil {
		s.Progress.Halt()
		s.Progress.Join()
	}
	if s.ATL != nil {
		s.ATL.Stop()
	}
	if err := s.Backup.Close(); err != nil {
		xlog.Warningf("server: backup catalog close: %v", err)
	}
	s.Allocator.Close()
	return s.endpoint.Close()
}

func (s *Server) rememberSize(regionID, offset, size uint64) {
	s.sizesMu.Lock()
	defer s.sizesMu.Unlock()
	m, ok := s.sizes[regionID]
	if !ok {
		m = make(map[uint64]uint64)
		s.sizes[regionID] = m
	}
	m[offset] = size
}

func (s *Server) forgetSize(regionID, offset uint64) (uint64, bool) {
	s.sizesMu.Lock()
	defer s.sizesMu.Unlock()
	m, ok := s.sizes[regionID]
	if !ok {
		return 0, false
	}
	size, ok := m[offset]
	if ok {
		delete(m, offset)
	}
	return size, ok
}

func (s *Server) forgetRegion(regionID uint64) {
	s.sizesMu.Lock()
	defer s.sizesMu.Unlock()
	delete(s.sizes, regionID)
}

// SignalStart implements signal_start() (§6): returns this server's
// fabric address, configured memory type, and its memserver index.
func (s *Server) SignalStart() (addr []byte, memoryType string, memserverID int) {
	local := s.endpoint.LocalAddr()
	return []byte(local.String()), s.defaultMemoryType(), s.memIndex
}

func (s *Server) defaultMemoryType() string {
	for _, mc := range s.cfg.Memservers {
		return mc.MemoryType
	}
	return "volatile"
}

// SignalTermination implements signal_termination() (§6): an orderly
// shutdown request from a client, distinct from process shutdown.
func (s *Server) SignalTermination() error {
	return s.Shutdown()
}

// CreateRegion implements create_region(region_id, size) (§6).
func (s *Server) CreateRegion(regionID, size uint64, memType cmn.MemoryType, level cmn.PermissionLevel) error {
	if err := s.Allocator.CreateRegion(regionID, size, memType); err != nil {
		return err
	}
	s.Resources.Track(regionID, level, cmn.AccessRW, nil)
	return nil
}

// CreateRegionFailureCleanup implements create_region_failure_cleanup
// (§6): unwinds partial region state after a client detects its own
// create_region failed downstream (e.g. after the RPC succeeded locally
// but a sibling memserver's create failed).
func (s *Server) CreateRegionFailureCleanup(regionID uint64) error {
	_, _ = s.Resources.DestroyRegion(regionID)
	s.forgetRegion(regionID)
	return nil
}

// DestroyRegion implements destroy_region(region_id) → resource_status
// (§6), deferring to the open resource handle's refcount (§4.C, §8
// scenario 6).
func (s *Server) DestroyRegion(regionID uint64) (resource.State, error) {
	state, err := s.Resources.DestroyRegion(regionID)
	if err == nil {
		s.forgetRegion(regionID)
	}
	return state, err
}

// ResizeRegion implements resize_region(region_id, new_size) (§6).
func (s *Server) ResizeRegion(regionID, newSize uint64) error {
	return s.Allocator.ResizeRegion(regionID, newSize)
}

// Allocate implements allocate(region_id, size) → offset (§6).
func (s *Server) Allocate(regionID, size uint64) (uint64, error) {
	offset, err := s.Allocator.Allocate(regionID, size)
	if err != nil {
		return 0, err
	}
	s.rememberSize(regionID, offset, size)
	return offset, nil
}

// Deallocate implements deallocate(region_id, offset) (§6). The RPC
// itself carries no size, so the size recorded at Allocate time is
// looked up here; an offset with no remembered size (e.g. a client
// retrying after a crash) is rejected rather than guessed at.
func (s *Server) Deallocate(regionID, offset uint64) error {
	size, ok := s.forgetSize(regionID, offset)
	if !ok {
		return cmn.NewError(cmn.NotFound, "deallocate: no tracked size for region %d offset %d", regionID, offset)
	}
	if err := s.Resources.MarkDeallocationPending(regionID, offset, size); err != nil {
		return err
	}
	return nil
}

// Copy implements the copy RPC (§6) by delegating to the copy engine.
func (s *Server) Copy(ctx context.Context, req copyengine.Request) error {
	return s.CopyEng.Copy(ctx, req)
}

// AcquireCASLock / ReleaseCASLock implement the CAS-emulation lock pair
// (§6, §9 fam_c.h-derived).
func (s *Server) AcquireCASLock(offset uint64) { s.Resources.AcquireCASLock(offset) }
func (s *Server) ReleaseCASLock(offset uint64) { s.Resources.ReleaseCASLock(offset) }

// RegisterRegionMemory implements register_region_memory(region_id, rw)
// (§6): registers the whole region's backing bytes for direct RDMA
// access without going through open_region_with_registration's refcount
// bookkeeping.
func (s *Server) RegisterRegionMemory(regionID uint64, rw cmn.AccessMode) (uint64, error) {
	local, err := s.Allocator.GetLocalPointer(regionID, 0)
	if err != nil {
		return 0, err
	}
	return s.RegMap.RegisterWindow(regionID, 0, local, rw)
}

// OpenRegionWithRegistration implements open_region_with_registration
// (§6): increments the region's refcount and, on the 0→1 transition,
// registers its tracked extents, per §4.C. It returns the registration
// keys only; no base addresses are returned.
func (s *Server) OpenRegionWithRegistration(regionID uint64, rw cmn.AccessMode) ([]uint64, error) {
	size, err := s.Allocator.RegionSize(regionID)
	if err != nil {
		return nil, err
	}
	local, err := s.Allocator.GetLocalPointer(regionID, 0)
	if err != nil {
		return nil, err
	}
	_ = size
	s.Resources.AddExtent(regionID, resource.Extent{Offset: 0, Local: local})
	if _, err := s.Resources.OpenResource(regionID, resource.FlagRegisterMemory); err != nil {
		return nil, err
	}
	key, ok := s.RegMap.LookupKey(regionID, cmn.ItemIDForOffset(0), rw)
	if !ok {
		return nil, cmn.NewError(cmn.Resource, "open_region_with_registration: key missing after open")
	}
	return []uint64{key}, nil
}

// OpenRegionWithoutRegistration implements
// open_region_without_registration(region_id) (§6): increments the
// refcount without touching the registration map.
func (s *Server) OpenRegionWithoutRegistration(regionID uint64) error {
	_, err := s.Resources.OpenResource(regionID, 0)
	return err
}

// CloseRegion implements close_region(region_id) → resource_status (§6).
func (s *Server) CloseRegion(regionID uint64) (resource.State, error) {
	return s.Resources.CloseResource(regionID)
}

// GetRegionMemory implements get_region_memory(region_id, rw) (§6). It
// returns the region's single registration key; no base address is
// returned.
func (s *Server) GetRegionMemory(regionID uint64, rw cmn.AccessMode) (uint64, error) {
	key, ok := s.RegMap.LookupKey(regionID, cmn.ItemIDForOffset(0), rw)
	if !ok {
		return s.RegisterRegionMemory(regionID, rw)
	}
	return key, nil
}

// GetDataItemMemory implements get_dataitem_memory(region_id, offset,
// size, rw) (§6). It returns the registration key; no base address is
// returned.
func (s *Server) GetDataItemMemory(regionID, offset, size uint64, rw cmn.AccessMode) (uint64, error) {
	local, err := s.Allocator.GetLocalPointer(regionID, offset)
	if err != nil {
		return 0, err
	}
	if uint64(len(local)) < size {
		return 0, cmn.NewError(cmn.OutOfRange, "get_dataitem_memory: region %d offset %d short of %d bytes", regionID, offset, size)
	}
	return s.RegMap.RegisterWindow(regionID, offset, local[:size], rw)
}

// GetLocalPointerBase implements get_local_pointer(region_id, offset) →
// base (§6), used only by providers that require base addresses
// alongside a registration key (§9 isBaseRequire).
func (s *Server) GetLocalPointerBase(regionID, offset uint64) ([]byte, error) {
	return s.Allocator.GetLocalPointer(regionID, offset)
}

// PushATL enqueues a get/put/scatter/gather_atomic request (§6) onto the
// ATL shard selected by (region_id, offset).
func (s *Server) PushATL(regionID, offset uint64, msg *atl.Message) error {
	return s.ATL.Push(regionID, offset, msg)
}

// UpdateMemserverAddrlist implements
// update_memserver_addrlist(packed_fabric_addrs, memserver_count) (§6):
// resolves each peer's packed fabric address once and caches it by
// memserver index for the copy engine and cross-server backup/restore.
func (s *Server) UpdateMemserverAddrlist(packed [][]byte) error {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	for idx, raw := range packed {
		addr, err := s.endpoint.Resolve(raw)
		if err != nil {
			return cmn.Wrap(err, cmn.FamRPC, "update_memserver_addrlist: resolve memserver %d", idx)
		}
		s.memAddrs[idx] = addr
	}
	return nil
}

// BackupDataItem implements the backup RPC (§6) for this server's local
// extent of the item.
func (s *Server) BackupDataItem(req backup.Request) error { return s.Backup.Backup(req) }

// RestoreDataItem implements the restore RPC (§6) for this server's
// local extent of the item.
func (s *Server) RestoreDataItem(req backup.RestoreRequest) error { return s.Backup.Restore(req) }

// GetBackupInfo implements get_backup_info (§6).
func (s *Server) GetBackupInfo(name string, uid, gid, mode uint32) (backup.Info, error) {
	return s.Backup.GetBackupInfo(name, uid, gid, mode)
}

// ListBackup implements list_backup(pattern, uid, gid, mode) (§6).
func (s *Server) ListBackup(pattern string, uid, gid, mode uint32) (string, error) {
	return s.Backup.ListBackup(pattern, uid, gid, mode)
}

// DeleteBackup implements delete_backup(backup_name) (§6).
func (s *Server) DeleteBackup(name string) error { return s.Backup.DeleteBackup(name) }
