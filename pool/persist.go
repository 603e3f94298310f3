package pool

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PersistentFile opens (creating if absent) the backing file for one
// region's heap under a memserver's fam_path, mmap'ing it so the region's
// bytes are actual page cache, matching §6's "pool itself, opaque but
// stable across restarts for persistent memory type".
type PersistentFile struct {
	Fresh     bool   // true if the file did not exist before this open
	PriorSize uint64 // file size observed before growth, for reopen
	f         *os.File
}

// OpenPersistentFile opens famPath/region-<id>.dat.
func OpenPersistentFile(famPath string, regionID uint64) (*PersistentFile, error) {
	if err := os.MkdirAll(famPath, 0o755); err != nil {
		return nil, errors.Wrapf(err, "pool: mkdir %s", famPath)
	}
	path := filepath.Join(famPath, regionFileName(regionID))
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "pool: open %s", path)
	}
	var priorSize uint64
	if !fresh {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "pool: stat %s", path)
		}
		priorSize = uint64(info.Size())
	}
	return &PersistentFile{Fresh: fresh, PriorSize: priorSize, f: f}, nil
}

func regionFileName(regionID uint64) string {
	return "region-" + itoa(regionID) + ".dat"
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// MapAtLeast truncates the file up to size (never shrinking it) and
// returns an mmap'd slice of exactly that length.
func (p *PersistentFile) MapAtLeast(size uint64) ([]byte, error) {
	cur, err := p.f.Stat()
	if err != nil {
		return nil, err
	}
	if uint64(cur.Size()) < size {
		if err := p.f.Truncate(int64(size)); err != nil {
			return nil, errors.Wrap(err, "pool: truncate backing file")
		}
	}
	buf, err := unix.Mmap(int(p.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "pool: mmap backing file")
	}
	return buf, nil
}

// Close closes the underlying file descriptor (the mmap itself is
// released by the heap's Close via unix.Munmap).
func (p *PersistentFile) Close() error {
	return p.f.Close()
}
