// Package backup implements Component H, the backup byte layout: a
// fixed-size page-aligned header followed by the raw, page-aligned and
// padded bytes of a data item (§4.H), plus the backup catalog
// (get_backup_info / list_backup / delete_backup) and cross-server
// striped backup/restore.
package backup

import (
	"encoding/binary"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// headerMagic tags a well-formed backup file.
const headerMagic uint32 = 0x4641424b // "FABK"

// nameFieldLen bounds the stored data-item name, keeping the header a
// fixed size regardless of the name's actual length.
const nameFieldLen = 192

// Header is the fixed-size metadata block written before a backup's raw
// payload (§4.H): "a fixed-size header (region id, item size, uid/gid,
// mode, name; aligned to pagesize)".
type Header struct {
	RegionID    uint64
	ItemSize    uint64
	UID         uint32
	GID         uint32
	Mode        uint32
	Name        string
	FileStartPos uint64 // byte offset of this file's payload within the logical item (§4.H)
	Checksum    uint64 // xxhash of the payload, computed once the payload is known
}

// HeaderSize is the on-disk size of the fixed header, rounded up to
// cmn.PageSize so the payload that follows starts page-aligned.
var HeaderSize = cmn.RoundUp(8+8+4+4+4+8+8+8+nameFieldLen, cmn.PageSize)

// encode serializes h into a HeaderSize-length, page-aligned buffer.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint64(buf[8:16], h.RegionID)
	binary.LittleEndian.PutUint64(buf[16:24], h.ItemSize)
	binary.LittleEndian.PutUint32(buf[24:28], h.UID)
	binary.LittleEndian.PutUint32(buf[28:32], h.GID)
	binary.LittleEndian.PutUint32(buf[32:36], h.Mode)
	binary.LittleEndian.PutUint64(buf[40:48], h.FileStartPos)
	binary.LittleEndian.PutUint64(buf[48:56], h.Checksum)
	nameBytes := []byte(h.Name)
	if len(nameBytes) > nameFieldLen {
		nameBytes = nameBytes[:nameFieldLen]
	}
	copy(buf[56:56+nameFieldLen], nameBytes)
	return buf
}

// decodeHeader parses a HeaderSize-length buffer back into a Header.
func decodeHeader(buf []byte) (*Header, error) {
	if uint64(len(buf)) < HeaderSize {
		return nil, cmn.NewError(cmn.OutOfRange, "backup: header buffer too short")
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != headerMagic {
		return nil, cmn.NewError(cmn.Resource, "backup: bad header magic")
	}
	h := &Header{
		RegionID:     binary.LittleEndian.Uint64(buf[8:16]),
		ItemSize:     binary.LittleEndian.Uint64(buf[16:24]),
		UID:          binary.LittleEndian.Uint32(buf[24:28]),
		GID:          binary.LittleEndian.Uint32(buf[28:32]),
		Mode:         binary.LittleEndian.Uint32(buf[32:36]),
		FileStartPos: binary.LittleEndian.Uint64(buf[40:48]),
		Checksum:     binary.LittleEndian.Uint64(buf[48:56]),
	}
	nameBytes := buf[56 : 56+nameFieldLen]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	h.Name = string(nameBytes[:end])
	return h, nil
}

// paddedPayloadSize rounds a payload of the given size up to a page
// boundary, matching "the raw bytes of the item, page-aligned and
// padded" (§4.H).
func paddedPayloadSize(size uint64) uint64 {
	return cmn.RoundUp(size, cmn.PageSize)
}
