package backup

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// Info is the result of get_backup_info (§6): {name, mode, size, uid, gid}.
type Info struct {
	Name string
	Mode uint32
	Size uint64
	UID  uint32
	GID  uint32
}

func catalogKey(name string) string { return "backup:" + name }

// catalog is the buntdb-backed index behind get_backup_info, list_backup
// and delete_backup, so those three RPCs don't need to re-open and parse
// every backup file's header on each call.
type catalog struct {
	db *buntdb.DB
	mu sync.Mutex
	sg *shortid.Shortid
}

func openCatalog(path string) (*catalog, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.Wrap(err, cmn.Resource, "backup: open catalog %s", path)
	}
	sg, err := shortid.New(1, shortid.DefaultABC, 1)
	if err != nil {
		return nil, cmn.Wrap(err, cmn.Resource, "backup: init name generator")
	}
	return &catalog{db: db, sg: sg}, nil
}

func (c *catalog) close() error { return c.db.Close() }

func encodeInfo(info Info) string {
	return fmt.Sprintf("%s|%d|%d|%d|%d", info.Name, info.Mode, info.Size, info.UID, info.GID)
}

func decodeInfo(raw string) (Info, error) {
	parts := strings.SplitN(raw, "|", 5)
	if len(parts) != 5 {
		return Info{}, cmn.NewError(cmn.Resource, "backup: malformed catalog entry %q", raw)
	}
	mode, err1 := strconv.ParseUint(parts[1], 10, 32)
	size, err2 := strconv.ParseUint(parts[2], 10, 64)
	uid, err3 := strconv.ParseUint(parts[3], 10, 32)
	gid, err4 := strconv.ParseUint(parts[4], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return Info{}, cmn.NewError(cmn.Resource, "backup: malformed catalog entry %q", raw)
	}
	return Info{Name: parts[0], Mode: uint32(mode), Size: size, UID: uint32(uid), GID: uint32(gid)}, nil
}

func (c *catalog) put(info Info) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(catalogKey(info.Name), encodeInfo(info), nil)
		return err
	})
}

func (c *catalog) get(name string) (Info, error) {
	var info Info
	err := c.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(catalogKey(name))
		if err != nil {
			if err == buntdb.ErrNotFound {
				return cmn.NewError(cmn.NotFound, "backup: %s not found", name)
			}
			return err
		}
		decoded, derr := decodeInfo(raw)
		if derr != nil {
			return derr
		}
		info = decoded
		return nil
	})
	return info, err
}

func (c *catalog) delete(name string) error {
	return c.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(catalogKey(name))
		if err == buntdb.ErrNotFound {
			return cmn.NewError(cmn.NotFound, "backup: %s not found", name)
		}
		return err
	})
}

// list returns every catalog entry whose name matches pattern (a
// buntdb/gjson-style glob), mirroring list_backup(pattern) (§6).
func (c *catalog) list(pattern string) ([]Info, error) {
	var out []Info
	err := c.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(catalogKey(pattern), func(key, raw string) bool {
			info, derr := decodeInfo(raw)
			if derr == nil {
				out = append(out, info)
			}
			return true
		})
	})
	return out, err
}

// defaultName generates a backup name when the caller left backup_name
// empty, per §9's documented default-naming choice.
func (c *catalog) defaultName(regionID uint64) string {
	id, err := c.sg.Generate()
	if err != nil {
		id = "0"
	}
	return fmt.Sprintf("backup-%d-%s", regionID, id)
}

// canAccess implements the permission check shared by get_backup_info and
// list_backup: the root uid, the owning uid, a member of the owning gid
// when the group-read bit is set, or anyone when the world-readable bit
// is set.
func canAccess(info Info, uid, gid uint32, mode uint32) bool {
	if uid == 0 {
		return true
	}
	if info.UID == uid {
		return true
	}
	if info.GID == gid && info.Mode&0040 != 0 {
		return true
	}
	return info.Mode&0004 != 0
}
