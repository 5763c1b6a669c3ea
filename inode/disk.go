// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inode

import (
	"encoding/binary"
	"time"

	"github.com/portworx/lcfs/errors"
)

// dinodeSize is the fixed header every inode block carries at offset 0
// (spec §6's "one on-disk inode (dinode) at offset 0"). A symlink target,
// if any, is not stored here but in the overflow body (EncodeOverflow).
const dinodeSize = 96

// mode 0 at offset 0 of an inode block is the tombstone sentinel (spec
// §6, §4.5): flushOne writes this for a removed inode that previously had
// an on-disk copy, so a remount sees it as gone without shrinking the
// inode-block index chain.
const tombstoneMode = 0

// EncodeDinode serializes ino's fixed-size header. Every field is written
// little-endian regardless of the host's byte order, and neither the
// header nor the superblock carries a format version. overflowBlock is recorded at bytes
// 88:96 so a later DecodeDinodeFull can find the directory/xattr/symlink/
// sparse-bmap body EncodeOverflow wrote for this inode, if any; pass 0 when
// ino has no such body.
func EncodeDinode(ino *Inode, overflowBlock uint64) []byte {
	buf := make([]byte, dinodeSize)
	binary.LittleEndian.PutUint32(buf[0:4], ino.Attr.Mode)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ino.Kind))
	binary.LittleEndian.PutUint32(buf[8:12], ino.Attr.Uid)
	binary.LittleEndian.PutUint32(buf[12:16], ino.Attr.Gid)
	binary.LittleEndian.PutUint32(buf[16:20], ino.Attr.Nlink)
	binary.LittleEndian.PutUint64(buf[20:28], ino.Attr.Size)
	binary.LittleEndian.PutUint64(buf[28:36], uint64(ino.Attr.Atime.UnixNano()))
	binary.LittleEndian.PutUint64(buf[36:44], uint64(ino.Attr.Mtime.UnixNano()))
	binary.LittleEndian.PutUint64(buf[44:52], uint64(ino.Attr.Ctime.UnixNano()))
	binary.LittleEndian.PutUint32(buf[52:56], ino.Attr.BlkSize)
	binary.LittleEndian.PutUint64(buf[56:64], ino.Parent)
	binary.LittleEndian.PutUint64(buf[64:72], ino.Number)
	if ino.Kind == KindRegular {
		if e, ok := ino.Bmap.Compact(); ok {
			binary.LittleEndian.PutUint64(buf[72:80], e.Start)
			binary.LittleEndian.PutUint64(buf[80:88], e.Length)
		}
	}
	binary.LittleEndian.PutUint64(buf[88:96], overflowBlock)
	return buf
}

// EncodeTombstone writes a mode==0 sentinel into a block-sized buffer,
// preserving the inode number at its fixed offset so mount-time scrub can
// still recognize what was removed.
func EncodeTombstone(ino *Inode, blockSize uint32) []byte {
	buf := make([]byte, blockSize)
	binary.LittleEndian.PutUint32(buf[0:4], tombstoneMode)
	binary.LittleEndian.PutUint64(buf[64:72], ino.Number)
	return buf
}

// DecodeDinode parses a block-sized buffer written by EncodeDinode back
// into an Inode header. The caller fills in body-specific state (Dir,
// Bmap runs, Xattrs) separately, since those live in their own blocks.
// Returns (nil, true) if the slot is a tombstone, so the caller can skip
// it and keep scanning the inode-block chain (spec §7: "logged and the
// slot is skipped; the read continues").
func DecodeDinode(buf []byte, layer uint64) (*Inode, bool, error) {
	if len(buf) < dinodeSize {
		return nil, false, errors.New(errors.IoError, "dinode buffer too short: %d bytes", len(buf))
	}
	mode := binary.LittleEndian.Uint32(buf[0:4])
	if mode == tombstoneMode {
		return nil, true, nil
	}

	ino := &Inode{
		Layer:  layer,
		Kind:   Kind(binary.LittleEndian.Uint32(buf[4:8])),
		Number: binary.LittleEndian.Uint64(buf[64:72]),
		Parent: binary.LittleEndian.Uint64(buf[56:64]),
		Attr: Attr{
			Mode:    mode,
			Uid:     binary.LittleEndian.Uint32(buf[8:12]),
			Gid:     binary.LittleEndian.Uint32(buf[12:16]),
			Nlink:   binary.LittleEndian.Uint32(buf[16:20]),
			Size:    binary.LittleEndian.Uint64(buf[20:28]),
			Atime:   time.Unix(0, int64(binary.LittleEndian.Uint64(buf[28:36]))),
			Mtime:   time.Unix(0, int64(binary.LittleEndian.Uint64(buf[36:44]))),
			Ctime:   time.Unix(0, int64(binary.LittleEndian.Uint64(buf[44:52]))),
			BlkSize: binary.LittleEndian.Uint32(buf[52:56]),
		},
		Flags:  Flags{Private: true},
		onDisk: true,
	}

	switch ino.Kind {
	case KindRegular:
		ino.Bmap = NewBlockMap()
		start := binary.LittleEndian.Uint64(buf[72:80])
		length := binary.LittleEndian.Uint64(buf[80:88])
		if length > 0 {
			ino.Bmap.Insert(Mapping{Logical: 0, Physical: start, Length: length})
		}
	case KindDirectory:
		ino.Dir = NewDirStore()
	}
	ino.Xattrs = NewXattrStore()

	return ino, false, nil
}

// overflowSection tags one chunk of an overflow block (spec §4.6/§4.7/§4.8):
// the directory/xattr/symlink/sparse-bmap bodies a compact dinode header has
// no room for. A single inode writes at most one instance of each.
type overflowSection uint32

const (
	sectionDir overflowSection = iota + 1
	sectionSymlink
	sectionXattr
	sectionBmap
)

// EncodeOverflow serializes the parts of ino's body that don't fit the
// 96-byte dinode header: directory entries, a symlink target, the xattr
// list, and a block map that isn't the single-run compact form. Returns
// (nil, nil) if ino needs no overflow block at all. Returns a non-nil error
// if the encoded body would exceed one block — this format chains no
// further, a known limit for directories/xattr lists that outgrow a block
// (see DESIGN.md) — so the caller can log the loss instead of silently
// dropping it.
func EncodeOverflow(ino *Inode, blockSize uint32) ([]byte, error) {
	var secs []overflowChunk

	if ino.Kind == KindDirectory && ino.Dir != nil {
		if payload := encodeDirSection(ino.Dir); payload != nil {
			secs = append(secs, overflowChunk{sectionDir, payload})
		}
	}
	if ino.Kind == KindSymlink && ino.SymlinkTarget != "" {
		secs = append(secs, overflowChunk{sectionSymlink, []byte(ino.SymlinkTarget)})
	}
	if ino.Xattrs != nil {
		if names := ino.Xattrs.List(); len(names) > 0 {
			secs = append(secs, overflowChunk{sectionXattr, encodeXattrSection(ino.Xattrs, names)})
		}
	}
	if ino.Kind == KindRegular && ino.Bmap != nil {
		if _, compact := ino.Bmap.Compact(); !compact {
			if runs := ino.Bmap.Runs(); len(runs) > 0 {
				secs = append(secs, overflowChunk{sectionBmap, encodeBmapSection(runs)})
			}
		}
	}
	if len(secs) == 0 {
		return nil, nil
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(secs)))
	for _, s := range secs {
		header := make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], uint32(s.typ))
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(s.payload)))
		buf = append(buf, header...)
		buf = append(buf, s.payload...)
	}
	if uint32(len(buf)) > blockSize {
		return nil, errors.New(errors.Invalid, "inode %d: overflow body is %d bytes, exceeds block size %d", ino.Number, len(buf), blockSize)
	}
	out := make([]byte, blockSize)
	copy(out, buf)
	return out, nil
}

type overflowChunk struct {
	typ     overflowSection
	payload []byte
}

func encodeDirSection(d *DirStore) []byte {
	entries, _ := d.Iterate(0, len(d.order))
	if len(entries) == 0 {
		return nil
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		entry := make([]byte, 4+len(e.Name)+8+4)
		binary.LittleEndian.PutUint32(entry[0:4], uint32(len(e.Name)))
		copy(entry[4:4+len(e.Name)], e.Name)
		off := 4 + len(e.Name)
		binary.LittleEndian.PutUint64(entry[off:off+8], e.Ino)
		binary.LittleEndian.PutUint32(entry[off+8:off+12], uint32(e.Kind))
		buf = append(buf, entry...)
	}
	return buf
}

func decodeDirSection(ino *Inode, payload []byte) error {
	if ino.Dir == nil {
		ino.Dir = NewDirStore()
	}
	if len(payload) < 4 {
		return errors.New(errors.IoError, "directory overflow section too short")
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+4 > len(payload) {
			return errors.New(errors.IoError, "directory overflow section truncated")
		}
		nameLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		if off+nameLen+12 > len(payload) {
			return errors.New(errors.IoError, "directory overflow section truncated")
		}
		name := string(payload[off : off+nameLen])
		off += nameLen
		number := binary.LittleEndian.Uint64(payload[off : off+8])
		kind := Kind(binary.LittleEndian.Uint32(payload[off+8 : off+12]))
		off += 12
		ino.Dir.Add(name, number, kind)
	}
	return nil
}

func encodeXattrSection(x *XattrStore, names []string) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(names)))
	for _, name := range names {
		value, _ := x.Get(name)
		entry := make([]byte, 4+len(name)+4+len(value))
		binary.LittleEndian.PutUint32(entry[0:4], uint32(len(name)))
		copy(entry[4:4+len(name)], name)
		off := 4 + len(name)
		binary.LittleEndian.PutUint32(entry[off:off+4], uint32(len(value)))
		copy(entry[off+4:], value)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeXattrSection(ino *Inode, payload []byte) error {
	if ino.Xattrs == nil {
		ino.Xattrs = NewXattrStore()
	}
	if len(payload) < 4 {
		return errors.New(errors.IoError, "xattr overflow section too short")
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+4 > len(payload) {
			return errors.New(errors.IoError, "xattr overflow section truncated")
		}
		nameLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		if off+nameLen+4 > len(payload) {
			return errors.New(errors.IoError, "xattr overflow section truncated")
		}
		name := string(payload[off : off+nameLen])
		off += nameLen
		valueLen := int(binary.LittleEndian.Uint32(payload[off : off+4]))
		off += 4
		if off+valueLen > len(payload) {
			return errors.New(errors.IoError, "xattr overflow section truncated")
		}
		ino.Xattrs.Set(name, payload[off:off+valueLen])
		off += valueLen
	}
	return nil
}

func encodeBmapSection(runs []Mapping) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(runs)))
	for _, r := range runs {
		entry := make([]byte, 24)
		binary.LittleEndian.PutUint64(entry[0:8], r.Logical)
		binary.LittleEndian.PutUint64(entry[8:16], r.Physical)
		binary.LittleEndian.PutUint64(entry[16:24], r.Length)
		buf = append(buf, entry...)
	}
	return buf
}

func decodeBmapSection(ino *Inode, payload []byte) error {
	if ino.Bmap == nil {
		ino.Bmap = NewBlockMap()
	}
	if len(payload) < 4 {
		return errors.New(errors.IoError, "bmap overflow section too short")
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+24 > len(payload) {
			return errors.New(errors.IoError, "bmap overflow section truncated")
		}
		m := Mapping{
			Logical:  binary.LittleEndian.Uint64(payload[off : off+8]),
			Physical: binary.LittleEndian.Uint64(payload[off+8 : off+16]),
			Length:   binary.LittleEndian.Uint64(payload[off+16 : off+24]),
		}
		off += 24
		ino.Bmap.Insert(m)
	}
	return nil
}

// DecodeOverflow parses an overflow block written by EncodeOverflow, filling
// in ino's Dir/SymlinkTarget/Xattrs/Bmap body from it.
func DecodeOverflow(ino *Inode, buf []byte) error {
	if len(buf) < 4 {
		return errors.New(errors.IoError, "overflow block too short: %d bytes", len(buf))
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+8 > len(buf) {
			return errors.New(errors.IoError, "overflow section header truncated")
		}
		typ := overflowSection(binary.LittleEndian.Uint32(buf[off : off+4]))
		length := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		off += 8
		if length < 0 || off+length > len(buf) {
			return errors.New(errors.IoError, "overflow section payload truncated")
		}
		payload := buf[off : off+length]
		off += length

		var err error
		switch typ {
		case sectionDir:
			err = decodeDirSection(ino, payload)
		case sectionSymlink:
			ino.SymlinkTarget = string(payload)
		case sectionXattr:
			err = decodeXattrSection(ino, payload)
		case sectionBmap:
			err = decodeBmapSection(ino, payload)
		default:
			err = errors.New(errors.IoError, "unknown overflow section type %d", typ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DecodeDinodeFull decodes the fixed header as DecodeDinode does, then
// additionally loads the inode's overflow block (directory entries, xattr
// list, symlink target, sparse block map) from dev if the header points to
// one. Used by mount-time reconstruction, which needs the full inode body,
// not just its header (spec §4.6/§4.7/§4.8); recount-style scans that only
// need the header keep using DecodeDinode directly.
func DecodeDinodeFull(buf []byte, dev blockReader, layer uint64) (*Inode, bool, error) {
	ino, tombstone, err := DecodeDinode(buf, layer)
	if err != nil || tombstone {
		return ino, tombstone, err
	}
	overflowBlock := binary.LittleEndian.Uint64(buf[88:96])
	if overflowBlock == 0 {
		return ino, false, nil
	}
	obuf, err := dev.ReadBlock(overflowBlock)
	if err != nil {
		return nil, false, errors.Wrap(errors.IoError, err, "inode %d: read overflow block %d", ino.Number, overflowBlock)
	}
	if err := DecodeOverflow(ino, obuf); err != nil {
		return nil, false, errors.Wrap(errors.IoError, err, "inode %d: decode overflow block %d", ino.Number, overflowBlock)
	}
	return ino, false, nil
}

// blockReader is the read side of device.BlockDevice; declared locally so
// this package doesn't need to import device just for DecodeDinodeFull's
// signature.
type blockReader interface {
	ReadBlock(block uint64) ([]byte, error)
}
