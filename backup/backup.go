package backup

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/OneOfOne/xxhash"
	"github.com/karrick/godirwalk"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// LocalStore is the subset of pool.Allocator a Manager needs: a way to
// read an item's current bytes (backup) and a way to reach the bytes of
// a freshly allocated item to write into (restore).
type LocalStore interface {
	GetLocalPointer(regionID, offset uint64) ([]byte, error)
}

// Request carries the fields of the backup RPC that apply to one
// server's local extent of a (possibly cross-server striped) data item
// (§6 backup).
type Request struct {
	RegionID           uint64
	Offset             uint64
	Size               uint64
	ChunkSize          uint64
	UsedMemserverCount int
	FileStartPos       uint64
	BackupName         string
	UID, GID, Mode     uint32
	DataItemName       string
	ItemSize           uint64
	WriteMetadata      bool
}

// RestoreRequest carries the fields of the restore RPC for one server's
// local extent.
type RestoreRequest struct {
	RegionID           uint64
	Offset             uint64
	Size               uint64
	ChunkSize          uint64
	UsedMemserverCount int
	FileStartPos       uint64
	BackupName         string
}

// Manager implements Component H: backup/restore byte layout plus the
// get_backup_info / list_backup / delete_backup catalog (§4.H, §6).
type Manager struct {
	backupPath string
	store      LocalStore
	cat        *catalog
}

// New opens (or creates) the catalog database under backupPath/.catalog
// and returns a Manager that writes backup files directly under
// backupPath, matching the teacher's convention of keeping index state
// alongside the data it indexes.
func New(backupPath string, store LocalStore) (*Manager, error) {
	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return nil, cmn.Wrap(err, cmn.Resource, "backup: create backup path %s", backupPath)
	}
	cat, err := openCatalog(filepath.Join(backupPath, ".catalog"))
	if err != nil {
		return nil, err
	}
	return &Manager{backupPath: backupPath, store: store, cat: cat}, nil
}

func (m *Manager) Close() error { return m.cat.close() }

// DefaultName returns a generated name for a backup that left
// backup_name empty (§9).
func (m *Manager) DefaultName(regionID uint64) string { return m.cat.defaultName(regionID) }

func (m *Manager) path(name string) string { return filepath.Join(m.backupPath, name) }

// Backup writes this server's local extent of a data item to disk as a
// header followed by a page-aligned, padded payload (§4.H). Cross-server
// striped items are backed up server-by-server; FileStartPos records
// where this file's bytes sit within the logical item so Restore can
// reassemble them.
func (m *Manager) Backup(req Request) error {
	if req.BackupName == "" {
		req.BackupName = m.DefaultName(req.RegionID)
	}
	payload, err := m.store.GetLocalPointer(req.RegionID, req.Offset)
	if err != nil {
		return err
	}
	if uint64(len(payload)) < req.Size {
		return cmn.NewError(cmn.OutOfRange, "backup: region %d offset %d has only %d bytes, need %d",
			req.RegionID, req.Offset, len(payload), req.Size)
	}
	payload = payload[:req.Size]

	hdr := &Header{
		RegionID:     req.RegionID,
		ItemSize:     req.ItemSize,
		UID:          req.UID,
		GID:          req.GID,
		Mode:         req.Mode,
		Name:         req.DataItemName,
		FileStartPos: req.FileStartPos,
		Checksum:     xxhash.Checksum64(payload),
	}

	f, err := os.OpenFile(m.path(req.BackupName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(req.Mode|0o600))
	if err != nil {
		return cmn.Wrap(err, cmn.Resource, "backup: create file %s", req.BackupName)
	}
	defer f.Close()

	if _, err := f.Write(hdr.encode()); err != nil {
		return cmn.Wrap(err, cmn.Resource, "backup: write header %s", req.BackupName)
	}
	padded := make([]byte, paddedPayloadSize(req.Size))
	copy(padded, payload)
	if _, err := f.Write(padded); err != nil {
		return cmn.Wrap(err, cmn.Resource, "backup: write payload %s", req.BackupName)
	}

	if req.WriteMetadata {
		info := Info{Name: req.BackupName, Mode: req.Mode, Size: req.Size, UID: req.UID, GID: req.GID}
		if err := m.cat.put(info); err != nil {
			return cmn.Wrap(err, cmn.Resource, "backup: catalog insert %s", req.BackupName)
		}
	}
	return nil
}

// Restore reads a previously written backup file's header and payload,
// verifies the header's region matches, and writes the payload into the
// caller's already-allocated local extent at req.Offset (§4.H "The
// restore path reads the header, verifies permissions, and writes the
// payload into a fresh item at the requested offset").
func (m *Manager) Restore(req RestoreRequest) error {
	f, err := os.Open(m.path(req.BackupName))
	if err != nil {
		return cmn.Wrap(err, cmn.NotFound, "backup: open file %s", req.BackupName)
	}
	defer f.Close()

	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		return cmn.Wrap(err, cmn.Resource, "backup: read header %s", req.BackupName)
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return err
	}
	if hdr.RegionID != req.RegionID {
		return cmn.NewError(cmn.NoPermission, "backup: file %s belongs to region %d, not %d",
			req.BackupName, hdr.RegionID, req.RegionID)
	}

	payload := make([]byte, req.Size)
	if _, err := io.ReadFull(f, payload); err != nil {
		return cmn.Wrap(err, cmn.Resource, "backup: read payload %s", req.BackupName)
	}
	if xxhash.Checksum64(payload) != hdr.Checksum && hdr.ItemSize == req.Size {
		xlog.Warningf("backup: checksum mismatch restoring %s", req.BackupName)
	}

	dst, err := m.store.GetLocalPointer(req.RegionID, req.Offset)
	if err != nil {
		return err
	}
	if uint64(len(dst)) < req.Size {
		return cmn.NewError(cmn.OutOfRange, "backup: restore target too small for %s", req.BackupName)
	}
	copy(dst[:req.Size], payload)
	return nil
}

// GetBackupInfo implements get_backup_info(backup_name, uid, gid, mode)
// (§6), enforcing the same owner/group/world check list_backup uses.
func (m *Manager) GetBackupInfo(name string, uid, gid, mode uint32) (Info, error) {
	info, err := m.cat.get(name)
	if err != nil {
		return Info{}, err
	}
	if !canAccess(info, uid, gid, mode) {
		return Info{}, cmn.NewError(cmn.NoPermission, "backup: %s not accessible to uid %d", name, uid)
	}
	return info, nil
}

// ListBackup implements list_backup(pattern, uid, gid, mode) (§6),
// rendering a text listing of every matching, accessible backup.
func (m *Manager) ListBackup(pattern string, uid, gid, mode uint32) (string, error) {
	infos, err := m.cat.list(pattern)
	if err != nil {
		return "", cmn.Wrap(err, cmn.Resource, "backup: list %s", pattern)
	}
	var sb []byte
	for _, info := range infos {
		if !canAccess(info, uid, gid, mode) {
			continue
		}
		sb = append(sb, renderInfoLine(info)...)
	}
	return string(sb), nil
}

func renderInfoLine(info Info) string {
	return info.Name + "\t" + modeString(info.Mode) + "\t" + sizeString(info.Size) + "\n"
}

func modeString(mode uint32) string { return "0" + strconv.FormatUint(uint64(mode), 8) }

func sizeString(size uint64) string { return strconv.FormatUint(size, 10) }

// DeleteBackup implements delete_backup(backup_name) (§6): removes the
// catalog entry, then unlinks the file on disk.
func (m *Manager) DeleteBackup(name string) error {
	if err := m.cat.delete(name); err != nil {
		return err
	}
	if err := os.Remove(m.path(name)); err != nil && !os.IsNotExist(err) {
		return cmn.Wrap(err, cmn.Resource, "backup: delete file %s", name)
	}
	return nil
}

// Reconcile walks backupPath for files the catalog has no entry for
// (e.g. after a catalog loss) and re-derives their Info from each file's
// own header, self-healing the index rather than requiring an external
// repair tool.
func (m *Manager) Reconcile() error {
	known := make(map[string]bool)
	if infos, err := m.cat.list("*"); err == nil {
		for _, info := range infos {
			known[info.Name] = true
		}
	}
	return godirwalk.Walk(m.backupPath, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Base(path) == ".catalog" {
				return nil
			}
			name := filepath.Base(path)
			if known[name] {
				return nil
			}
			hdr, size, err := readHeaderFromFile(path)
			if err != nil {
				xlog.Warningf("backup: skipping unreadable file %s during reconcile: %v", path, err)
				return nil
			}
			return m.cat.put(Info{Name: name, Mode: hdr.Mode, Size: size, UID: hdr.UID, GID: hdr.GID})
		},
	})
}

func readHeaderFromFile(path string) (*Header, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, 0, err
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	return hdr, hdr.ItemSize, nil
}
