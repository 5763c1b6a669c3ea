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

// Package inode implements the unified Inode type (spec §3) and the four
// per-layer stores built on top of it: InodeStore, DirStore, BlockMap and
// XattrStore. Unlike the teacher's polymorphic DirInode/FileInode/SymlinkInode
// hierarchy, spec.md models one Inode struct with a kind-specific body, so
// that copy-up can move an inode between kinds of parent-sharing without
// switching Go types.
package inode

import (
	"sync"
	"time"

	"github.com/portworx/lcfs/clock"
)

// Kind is the inode's file type.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindDevice
)

// Attr is the inode's stat-like metadata.
type Attr struct {
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Nlink   uint32
	Size    uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	BlkSize uint32
	Rdev    uint32 // device kind's major/minor, packed
}

// Flags captures the COW/lifecycle bits spec §3 lists under "Ownership
// flags".
type Flags struct {
	Shared       bool // body borrowed from a parent layer; must copy before mutation
	Private      bool // this layer exclusively owns the body
	Removed      bool // unlinked within this layer
	XattrsShared bool // xattr list borrowed from a parent layer (independent of Shared)
	BmapDirty    bool
	DirDirty     bool
	XattrDirty   bool
	StatDirty    bool
}

// Inode is one file-system object, shared by every Kind. The Mu lock is the
// per-inode read/write lock at order 4 of spec §5's lock hierarchy: it may
// be held across BlockDevice I/O.
type Inode struct {
	Mu sync.RWMutex // GUARDS everything below except Number/Layer/Kind

	Number uint64
	Layer  uint64 // owning layer's global index
	Kind   Kind
	Parent uint64 // parent directory inode number

	Attr  Attr
	Flags Flags

	// Regular file body.
	Bmap *BlockMap

	// Directory body.
	Dir *DirStore

	// Symlink body.
	SymlinkTarget string

	// Extended attributes, present for any kind.
	Xattrs *XattrStore

	// onDisk is true once this inode has been written at least once;
	// flushOne uses it to decide between an update and a tombstone write
	// on removal.
	onDisk bool
}

// NewInode allocates a fresh Inode of the given kind, owned by layer,
// stamped with now.
func NewInode(number uint64, layer uint64, kind Kind, parent uint64, mode uint32, uid, gid uint32, blkSize uint32, now time.Time) *Inode {
	ino := &Inode{
		Number: number,
		Layer:  layer,
		Kind:   kind,
		Parent: parent,
		Attr: Attr{
			Mode:    mode,
			Uid:     uid,
			Gid:     gid,
			Nlink:   1,
			BlkSize: blkSize,
			Atime:   now,
			Mtime:   now,
			Ctime:   now,
		},
		Flags: Flags{Private: true},
	}
	switch kind {
	case KindRegular:
		ino.Bmap = NewBlockMap()
	case KindDirectory:
		ino.Dir = NewDirStore()
		ino.Attr.Nlink = 2
	}
	ino.Xattrs = NewXattrStore()
	return ino
}

// touch stamps mtime/ctime (a write) or just atime (a read) using clk.
func (ino *Inode) touch(clk clock.Clock, write bool) {
	now := clk.Now()
	ino.Attr.Atime = now
	if write {
		ino.Attr.Mtime = now
		ino.Attr.Ctime = now
		ino.Flags.StatDirty = true
	}
}

// Dirty reports whether any part of the inode needs to be flushed.
func (ino *Inode) Dirty() bool {
	return ino.Flags.StatDirty || ino.Flags.BmapDirty || ino.Flags.DirDirty || ino.Flags.XattrDirty || !ino.onDisk
}

// clone produces the in-memory child-layer copy used by copy-up. The
// caller (InodeStore.get) is responsible for inserting it into the child
// layer's hash and persisting it.
func (ino *Inode) clone(newNumber uint64, newLayer uint64) *Inode {
	c := &Inode{
		Number: newNumber,
		Layer:  newLayer,
		Kind:   ino.Kind,
		Parent: ino.Parent,
		Attr:   ino.Attr,
		Flags:  Flags{Shared: true},
	}

	switch ino.Kind {
	case KindRegular:
		c.Bmap = ino.Bmap
		c.Flags.BmapDirty = true
	case KindDirectory:
		c.Dir = ino.Dir
		c.Flags.DirDirty = true
	case KindSymlink:
		c.SymlinkTarget = ino.SymlinkTarget
	}
	// Xattrs are copied by reference (spec §4.5 step 5); first mutation
	// materializes a private copy, same as bmap/dir bodies.
	c.Xattrs = ino.Xattrs
	c.Flags.XattrsShared = true
	c.Flags.XattrDirty = true
	c.Flags.StatDirty = true
	return c
}
