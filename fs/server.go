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

// Package fs is the RequestDispatch module (spec §6): a jacobsa/fuse
// server that translates each incoming op into a handful of InodeStore /
// DirStore / BlockMap / XattrStore calls against the mounted layer tree.
// Unlike the teacher's fs package, which resolves a flat fuseops.InodeID
// against one GCS-backed inode table, every InodeID here is a
// (layer, inode-number) pair packed into a uint64: the high 32 bits select
// the layer, the low 32 bits the inode number within it. This is what lets
// a single mount present every layer's root as a distinct FUSE namespace
// entry point, without changing jacobsa/fuse's ID type.
package fs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/portworx/lcfs/clock"
	"github.com/portworx/lcfs/errors"
	"github.com/portworx/lcfs/extent"
	"github.com/portworx/lcfs/inode"
	"github.com/portworx/lcfs/layer"
	"github.com/portworx/lcfs/logger"
	"github.com/portworx/lcfs/pagecache"
)

// Reserved xattr names dispatched against the ".layers" directory (or, for
// CommitXattr, any layer's own root) instead of an ordinary XattrStore
// lookup: this is how LayerManager.CreateLayer/RemoveLayer/Commit and
// GlobalState's snapshot anchor are exposed to a running mount, since
// jacobsa/fuse's fuseops has no generic ioctl op (spec §6).
const (
	CommitXattr         = "lcfs.commit"
	SnapshotAnchorXattr = "lcfs.snapshot-anchor"
	statXattrPrefix     = "lcfs.stat."
)

// isSnapshotRoot reports whether ino is the ".layers" directory. It checks
// ino.Layer rather than the layer context it was reached through, so the
// check stays correct even if a child layer ever copies the snapshot-root
// inode up into itself.
func isSnapshotRoot(ino *inode.Inode) bool {
	return ino.Layer == 0 && ino.Number == layer.SnapshotRootNumber
}

// packInodeID combines a layer index and an in-layer inode number into the
// ID the kernel hands back to us on every subsequent op.
func packInodeID(layerIndex, number uint64) fuseops.InodeID {
	return fuseops.InodeID(layerIndex<<32 | (number & 0xffffffff))
}

func unpackInodeID(id fuseops.InodeID) (layerIndex, number uint64) {
	u := uint64(id)
	return u >> 32, u & 0xffffffff
}

// handle is one open file or directory handle.
type handle struct {
	layerIndex uint64
	number     uint64
	isDir      bool

	// Directory-read cursor, reset to 0 on Offset==0 (rewinddir).
	cookie int
}

// Server implements fuseutil.FileSystem against a mounted layer tree.
type Server struct {
	fuseutil.NotImplementedFileSystem

	manager *layer.LayerManager
	clock   clock.Clock

	mu         sync.Mutex
	handles    map[fuseops.HandleID]*handle
	nextHandle fuseops.HandleID
}

// NewServer wraps manager as a fuse.Server ready to be mounted.
func NewServer(manager *layer.LayerManager, clk clock.Clock) fuse.Server {
	s := &Server{
		manager: manager,
		clock:   clk,
		handles: make(map[fuseops.HandleID]*handle),
	}
	return fuseutil.NewFileSystemServer(s)
}

func (s *Server) storeFor(layerIndex uint64) (*layer.Layer, error) {
	l := s.manager.State().Layers()
	if layerIndex >= uint64(len(l)) || l[layerIndex] == nil {
		return nil, errors.New(errors.NotFound, "layer %d not mounted", layerIndex)
	}
	return l[layerIndex], nil
}

func (s *Server) getInode(id fuseops.InodeID, mode inode.Mode) (*layer.Layer, *inode.Inode, error) {
	layerIndex, number := unpackInodeID(id)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return nil, nil, err
	}
	ino, err := l.Store.Get(number, mode)
	if err != nil {
		return nil, nil, err
	}
	return l, ino, nil
}

func toErrno(err error) error {
	if err == nil {
		return nil
	}
	switch errors.KindOf(err) {
	case errors.NotFound:
		return fuse.ENOENT
	case errors.Exists:
		return fuse.EEXIST
	case errors.NotEmpty:
		return fuse.ENOTEMPTY
	case errors.ReadOnly:
		return syscall.EROFS
	case errors.NoSpace:
		return syscall.ENOSPC
	case errors.Invalid:
		return fuse.EINVAL
	default:
		logger.Errorf("fs: request failed: %v", err)
		return fuse.EIO
	}
}

func attrFromInode(ino *inode.Inode) fuseops.InodeAttributes {
	var typ os.FileMode
	switch ino.Kind {
	case inode.KindDirectory:
		typ = os.ModeDir
	case inode.KindSymlink:
		typ = os.ModeSymlink
	case inode.KindDevice:
		typ = os.ModeDevice
	}
	return fuseops.InodeAttributes{
		Size:   ino.Attr.Size,
		Nlink:  ino.Attr.Nlink,
		Mode:   os.FileMode(ino.Attr.Mode) | typ,
		Atime:  ino.Attr.Atime,
		Mtime:  ino.Attr.Mtime,
		Ctime:  ino.Attr.Ctime,
		Uid:    ino.Attr.Uid,
		Gid:    ino.Attr.Gid,
	}
}

func (s *Server) Init(op *fuseops.InitOp) error { return nil }

func (s *Server) StatFS(op *fuseops.StatFSOp) error {
	g := s.manager.State().Global
	sb := s.manager.State().Superblock
	op.BlockSize = sb.BlockSize
	op.Blocks = sb.BlockCount
	op.BlocksFree = g.Total()
	op.BlocksAvailable = g.Total()
	op.Inodes = 0
	op.InodesFree = 0
	return nil
}

func (s *Server) LookUpInode(op *fuseops.LookUpInodeOp) error {
	layerIndex, parentNumber := unpackInodeID(op.Parent)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	parent, err := l.Store.Get(parentNumber, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(parent, inode.ModeRead)

	if parent.Kind != inode.KindDirectory {
		return fuse.ENOTDIR
	}

	if isSnapshotRoot(parent) {
		target, ok := s.manager.State().LayerByName(op.Name)
		if !ok {
			return fuse.ENOENT
		}
		root, err := target.Store.Get(layer.RootInodeNumber, inode.ModeRead)
		if err != nil {
			return toErrno(err)
		}
		defer target.Store.Release(root, inode.ModeRead)
		op.Entry.Child = packInodeID(target.Index, root.Number)
		op.Entry.Attributes = attrFromInode(root)
		return nil
	}

	e, ok := parent.Dir.Lookup(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	child, err := l.Store.Get(e.Ino, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(child, inode.ModeRead)

	op.Entry.Child = packInodeID(l.Index, child.Number)
	op.Entry.Attributes = attrFromInode(child)
	return nil
}

func (s *Server) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)
	op.Attributes = attrFromInode(ino)
	return nil
}

func (s *Server) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeWrite)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeWrite)

	if op.Size != nil && ino.Kind == inode.KindRegular {
		ino.MaterializeBmap()
		freed := ino.Bmap.Truncate(*op.Size / uint64(ino.Attr.BlkSize))
		for _, f := range freed {
			l.Alloc.Free(toExtent(f), false, !ino.Flags.Shared)
		}
		ino.Attr.Size = *op.Size
		ino.Flags.BmapDirty = true
	}
	if op.Mode != nil {
		ino.Attr.Mode = uint32(*op.Mode)
	}
	if op.Atime != nil {
		ino.Attr.Atime = *op.Atime
	}
	if op.Mtime != nil {
		ino.Attr.Mtime = *op.Mtime
	}
	ino.Flags.StatDirty = true
	ino.Attr.Ctime = s.clock.Now()

	op.Attributes = attrFromInode(ino)
	return nil
}

func (s *Server) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (s *Server) MkDir(op *fuseops.MkDirOp) error {
	layerIndex, parentNumber := unpackInodeID(op.Parent)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	parent, err := l.Store.Get(parentNumber, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	snap := isSnapshotRoot(parent)
	l.Store.Release(parent, inode.ModeRead)
	if snap {
		return s.createLayerEntry(op.Name, &op.Entry)
	}
	return s.createChild(op.Parent, op.Name, inode.KindDirectory, uint32(op.Mode), "", &op.Entry)
}

// createLayerEntry backs "mkdir" under ".layers": it creates a new writable
// layer named name, child of the mounted root, and returns its own root
// directory (inode 1, resolved transparently through to the parent's
// content until something under it is copied up) as the new child entry.
func (s *Server) createLayerEntry(name string, entry *fuseops.ChildInodeEntry) error {
	l, err := s.manager.CreateLayer(name, "", false)
	if err != nil {
		return toErrno(err)
	}
	root, err := l.Store.Get(layer.RootInodeNumber, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(root, inode.ModeRead)
	entry.Child = packInodeID(l.Index, root.Number)
	entry.Attributes = attrFromInode(root)
	return nil
}

func (s *Server) CreateFile(op *fuseops.CreateFileOp) error {
	return s.createChild(op.Parent, op.Name, inode.KindRegular, uint32(op.Mode), "", &op.Entry)
}

func (s *Server) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	return s.createChild(op.Parent, op.Name, inode.KindSymlink, 0777, op.Target, &op.Entry)
}

func (s *Server) createChild(parentID fuseops.InodeID, name string, kind inode.Kind, mode uint32, symlinkTarget string, entry *fuseops.ChildInodeEntry) error {
	layerIndex, parentNumber := unpackInodeID(parentID)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	parent, err := l.Store.Get(parentNumber, inode.ModeCopy)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(parent, inode.ModeCopy)

	if parent.Kind != inode.KindDirectory {
		return fuse.ENOTDIR
	}
	parent.MaterializeDir()
	if _, exists := parent.Dir.Lookup(name); exists {
		return fuse.EEXIST
	}

	child := l.Store.Alloc(kind, parent.Number, mode, 0, 0, parent.Attr.BlkSize, s.clock)
	if kind == inode.KindSymlink {
		child.SymlinkTarget = symlinkTarget
	}
	if kind == inode.KindDirectory {
		parent.Attr.Nlink++
		parent.Flags.StatDirty = true
	}
	parent.Dir.Add(name, child.Number, kind)

	entry.Child = packInodeID(l.Index, child.Number)
	entry.Attributes = attrFromInode(child)
	return nil
}

func (s *Server) RmDir(op *fuseops.RmDirOp) error {
	layerIndex, parentNumber := unpackInodeID(op.Parent)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	parent, err := l.Store.Get(parentNumber, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	snap := isSnapshotRoot(parent)
	l.Store.Release(parent, inode.ModeRead)
	if snap {
		return toErrno(s.manager.RemoveLayer(op.Name))
	}
	return s.unlink(op.Parent, op.Name, true)
}

func (s *Server) Unlink(op *fuseops.UnlinkOp) error {
	return s.unlink(op.Parent, op.Name, false)
}

func (s *Server) unlink(parentID fuseops.InodeID, name string, wantDir bool) error {
	layerIndex, parentNumber := unpackInodeID(parentID)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	parent, err := l.Store.Get(parentNumber, inode.ModeCopy)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(parent, inode.ModeCopy)
	parent.MaterializeDir()

	e, ok := parent.Dir.Lookup(name)
	if !ok {
		return fuse.ENOENT
	}

	child, err := l.Store.Get(e.Ino, inode.ModeWrite)
	if err != nil {
		return toErrno(err)
	}
	isDir := child.Kind == inode.KindDirectory
	if wantDir != isDir {
		l.Store.Release(child, inode.ModeWrite)
		if wantDir {
			return fuse.ENOTDIR
		}
		return syscall.EISDIR
	}
	if isDir && child.Dir.Len() > 0 {
		l.Store.Release(child, inode.ModeWrite)
		return fuse.ENOTEMPTY
	}

	parent.Dir.Remove(name)
	child.Attr.Nlink--
	if child.Attr.Nlink == 0 {
		child.Flags.Removed = true
	}
	child.Flags.StatDirty = true
	l.Store.Release(child, inode.ModeWrite)
	return nil
}

func (s *Server) Rename(op *fuseops.RenameOp) error {
	oldLayer, oldParentNumber := unpackInodeID(op.OldParent)
	newLayer, newParentNumber := unpackInodeID(op.NewParent)
	if oldLayer != newLayer {
		return syscall.EXDEV
	}
	l, err := s.storeFor(oldLayer)
	if err != nil {
		return toErrno(err)
	}

	// Ascending-inode-number lock ordering (spec §5) avoids deadlock when
	// renaming within the same directory or across siblings.
	first, second := oldParentNumber, newParentNumber
	if first > second {
		first, second = second, first
	}
	firstIno, err := l.Store.Get(first, inode.ModeCopy)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(firstIno, inode.ModeCopy)

	var secondIno *inode.Inode
	if second != first {
		secondIno, err = l.Store.Get(second, inode.ModeCopy)
		if err != nil {
			return toErrno(err)
		}
		defer l.Store.Release(secondIno, inode.ModeCopy)
	} else {
		secondIno = firstIno
	}

	var oldParent, newParent *inode.Inode
	if oldParentNumber == first {
		oldParent, newParent = firstIno, secondIno
	} else {
		oldParent, newParent = secondIno, firstIno
	}

	oldParent.MaterializeDir()
	newParent.MaterializeDir()
	if !oldParent.Dir.Rename(op.OldName, op.NewName, newParent.Dir) {
		return fuse.ENOENT
	}
	return nil
}

func (s *Server) OpenDir(op *fuseops.OpenDirOp) error {
	layerIndex, number := unpackInodeID(op.Inode)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	ino, err := l.Store.Get(number, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)
	if ino.Kind != inode.KindDirectory {
		return fuse.ENOTDIR
	}

	s.mu.Lock()
	s.nextHandle++
	id := s.nextHandle
	s.handles[id] = &handle{layerIndex: layerIndex, number: number, isDir: true}
	s.mu.Unlock()
	op.Handle = id
	return nil
}

func (s *Server) ReadDir(op *fuseops.ReadDirOp) error {
	s.mu.Lock()
	h, ok := s.handles[op.Handle]
	s.mu.Unlock()
	if !ok || !h.isDir {
		return fuse.EINVAL
	}

	l, err := s.storeFor(h.layerIndex)
	if err != nil {
		return toErrno(err)
	}
	ino, err := l.Store.Get(h.number, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)

	if isSnapshotRoot(ino) {
		return s.readSnapshotRootDir(op, h)
	}

	if op.Offset == 0 {
		h.cookie = 0
	}
	entries, next := ino.Dir.Iterate(h.cookie, 64)
	h.cookie = next

	var n int
	for i, e := range entries {
		var typ fuseutil.DirentType
		switch e.Kind {
		case inode.KindDirectory:
			typ = fuseutil.DT_Directory
		case inode.KindSymlink:
			typ = fuseutil.DT_Link
		default:
			typ = fuseutil.DT_File
		}
		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(int(op.Offset) + i + 1),
			Inode:  packInodeID(h.layerIndex, e.Ino),
			Name:   e.Name,
			Type:   typ,
		}
		rec := fuseutil.WriteDirent(op.Dst[n:], d)
		if rec == 0 {
			break
		}
		n += rec
	}
	op.BytesRead = n
	return nil
}

// readSnapshotRootDir lists every mounted layer as a ".layers" entry,
// rather than reading a DirStore: layers are created by CreateLayer, not by
// ordinary Dir.Add calls, so there is no backing directory body to iterate.
func (s *Server) readSnapshotRootDir(op *fuseops.ReadDirOp, h *handle) error {
	layers := s.manager.State().Layers()
	if op.Offset == 0 {
		h.cookie = 0
	}

	n := 0
	i := h.cookie
	for ; i < len(layers); i++ {
		l := layers[i]
		if l == nil {
			continue
		}
		d := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  packInodeID(l.Index, layer.RootInodeNumber),
			Name:   l.Name,
			Type:   fuseutil.DT_Directory,
		}
		rec := fuseutil.WriteDirent(op.Dst[n:], d)
		if rec == 0 {
			break
		}
		n += rec
	}
	h.cookie = i
	op.BytesRead = n
	return nil
}

func (s *Server) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	s.mu.Lock()
	delete(s.handles, op.Handle)
	s.mu.Unlock()
	return nil
}

func (s *Server) OpenFile(op *fuseops.OpenFileOp) error {
	layerIndex, number := unpackInodeID(op.Inode)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	ino, err := l.Store.Get(number, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)
	if ino.Kind != inode.KindRegular {
		return fuse.EINVAL
	}

	s.mu.Lock()
	s.nextHandle++
	id := s.nextHandle
	s.handles[id] = &handle{layerIndex: layerIndex, number: number}
	s.mu.Unlock()
	op.Handle = id
	op.KeepPageCache = false
	return nil
}

func (s *Server) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	s.mu.Lock()
	delete(s.handles, op.Handle)
	s.mu.Unlock()
	return nil
}

func (s *Server) ReadFile(op *fuseops.ReadFileOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)

	blockSize := uint64(ino.Attr.BlkSize)
	startBlock := uint64(op.Offset) / blockSize
	blockCount := (uint64(len(op.Dst)) + blockSize - 1) / blockSize
	runs := ino.Bmap.Read(startBlock, blockCount+1)

	n := 0
	for _, r := range runs {
		for i := uint64(0); i < r.Length && n < len(op.Dst); i++ {
			buf, err := readBlock(l, r.Physical+i)
			if err != nil {
				return toErrno(err)
			}
			n += copy(op.Dst[n:], buf)
		}
	}
	op.BytesRead = n
	return nil
}

func readBlock(l *layer.Layer, block uint64) ([]byte, error) {
	if p := l.Cache.Get(block); p != nil {
		return p.Data, nil
	}
	return l.Dev.ReadBlock(block)
}

func (s *Server) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)
	op.Target = ino.SymlinkTarget
	return nil
}

func (s *Server) WriteFile(op *fuseops.WriteFileOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeWrite)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeWrite)
	ino.MaterializeBmap()

	blockSize := uint64(ino.Attr.BlkSize)
	startBlock := uint64(op.Offset) / blockSize
	count := (uint64(len(op.Data)) + blockSize - 1) / blockSize

	e, err := l.Alloc.AllocExact(count, false)
	if err != nil {
		return toErrno(err)
	}
	freed := ino.Bmap.Insert(inodeMapping(startBlock, e.Start, count))
	for _, f := range freed {
		l.Alloc.Free(toExtent(f), false, !ino.Flags.Shared)
	}

	off := 0
	for i := uint64(0); i < count; i++ {
		buf := make([]byte, blockSize)
		n := copy(buf, op.Data[off:])
		off += n
		if err := l.Cache.Put(e.Start+i, buf, pagecache.DirtyUpdated); err != nil {
			return toErrno(err)
		}
	}

	end := uint64(op.Offset) + uint64(len(op.Data))
	if end > ino.Attr.Size {
		ino.Attr.Size = end
	}
	ino.Flags.BmapDirty = true
	ino.Flags.StatDirty = true
	ino.Attr.Mtime = s.clock.Now()
	return nil
}

func (s *Server) SyncFile(op *fuseops.SyncFileOp) error {
	return s.flush(op.Inode)
}

func (s *Server) FlushFile(op *fuseops.FlushFileOp) error {
	return s.flush(op.Inode)
}

func (s *Server) flush(id fuseops.InodeID) error {
	layerIndex, _ := unpackInodeID(id)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	if err := l.Sync(l.Dev); err != nil {
		return toErrno(err)
	}
	return nil
}

func (s *Server) GetXattr(op *fuseops.GetXattrOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)

	if isSnapshotRoot(ino) {
		switch {
		case op.Name == SnapshotAnchorXattr:
			v := strconv.FormatUint(s.manager.State().SnapshotAnchor(), 10)
			op.BytesRead = copy(op.Dst, v)
			return nil
		case strings.HasPrefix(op.Name, statXattrPrefix):
			target, ok := s.manager.State().LayerByName(strings.TrimPrefix(op.Name, statXattrPrefix))
			if !ok {
				return syscall.ENODATA
			}
			mem, disk := target.Counts()
			op.BytesRead = copy(op.Dst, fmt.Sprintf("mem=%d disk=%d", mem, disk))
			return nil
		}
	}

	v, ok := ino.Xattrs.Get(op.Name)
	if !ok {
		return syscall.ENODATA
	}
	op.BytesRead = copy(op.Dst, v)
	return nil
}

func (s *Server) SetXattr(op *fuseops.SetXattrOp) error {
	layerIndex, number := unpackInodeID(op.Inode)
	l, err := s.storeFor(layerIndex)
	if err != nil {
		return toErrno(err)
	}
	probe, err := l.Store.Get(number, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	snapRoot := isSnapshotRoot(probe)
	isLayerRoot := probe.Number == layer.RootInodeNumber
	l.Store.Release(probe, inode.ModeRead)

	switch {
	case snapRoot && op.Name == SnapshotAnchorXattr:
		idx, perr := strconv.ParseUint(string(op.Value), 10, 64)
		if perr != nil {
			return fuse.EINVAL
		}
		s.manager.State().SetSnapshotAnchor(idx)
		return nil
	case isLayerRoot && op.Name == CommitXattr:
		return toErrno(s.manager.Commit(l))
	}

	ino, err := l.Store.Get(number, inode.ModeWrite)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeWrite)
	ino.MaterializeXattrs()
	ino.Xattrs.Set(op.Name, op.Value)
	ino.Flags.XattrDirty = true
	return nil
}

func (s *Server) RemoveXattr(op *fuseops.RemoveXattrOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeWrite)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeWrite)
	ino.MaterializeXattrs()
	if !ino.Xattrs.Remove(op.Name) {
		return syscall.ENODATA
	}
	ino.Flags.XattrDirty = true
	return nil
}

func (s *Server) ListXattr(op *fuseops.ListXattrOp) error {
	l, ino, err := s.getInode(op.Inode, inode.ModeRead)
	if err != nil {
		return toErrno(err)
	}
	defer l.Store.Release(ino, inode.ModeRead)

	n := 0
	for _, name := range ino.Xattrs.List() {
		n += copy(op.Dst[n:], name+"\x00")
	}
	op.BytesRead = n
	return nil
}

func toExtent(m inode.Mapping) extent.Extent {
	return extent.Extent{Start: m.Physical, Length: m.Length}
}

func inodeMapping(logical, physical, length uint64) inode.Mapping {
	return inode.Mapping{Logical: logical, Physical: physical, Length: length}
}
