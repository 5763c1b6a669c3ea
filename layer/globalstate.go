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

package layer

import (
	"sync"

	"github.com/google/uuid"
	"github.com/portworx/lcfs/alloc"
	"github.com/portworx/lcfs/device"
)

// reservedBlocks is the fixed region at the start of the device holding the
// superblock and (optional) layer-table mirror; everything past it is
// handed to the global free pool.
const reservedBlocks = 64

// layerTableBlock is the fixed reserved block Commit rewrites with the
// full layer table (spec §8 scenario S1: every previously created layer
// must still exist after unmount/remount, not just layer 0).
const layerTableBlock = 1

// RootInodeNumber is the mount's root directory, always inode 1 in layer 0.
const RootInodeNumber = 1

// SnapshotRootNumber is the reserved ".layers" directory inode (spec §6's
// layer-management surface), a child of the mount root in layer 0.
const SnapshotRootNumber = 2

// SnapshotDirName is the root entry name under which layer management is
// exposed to the FUSE mount.
const SnapshotDirName = ".layers"

// Superblock is the fixed, first-block record of the mounted device: its
// identity and the layer currently mounted as root (spec §6).
type Superblock struct {
	FSID       uuid.UUID
	BlockSize  uint32
	BlockCount uint64
	RootLayer  uint64

	// LayerTableBlock is where Commit last wrote the layer table (0 on a
	// freshly formatted device, before any commit). Mount uses its presence
	// to choose between bootstrapping layer 0 from scratch and reconstructing
	// the full layer tree from that block (spec §8 scenario S1).
	LayerTableBlock uint64
}

// GlobalState is the process-wide mount state: the superblock, the full
// layer table, the shared free-block pool and the atomic inode-number
// counter (spec §3's GlobalState, order 0 in spec §5's lock hierarchy).
type GlobalState struct {
	mu sync.RWMutex

	Superblock Superblock
	Device     device.BlockDevice
	Global     *alloc.Global
	Metrics    Metrics
	Sizing     Config

	layers    []*Layer // indexed by layer index
	byName    map[string]*Layer
	nextLayer uint64
	nextInode uint64

	unmounting bool

	snapshotAnchor uint64 // layer under which stat-layer/ioctl directory is rooted
}

// layerByIndex returns the layer at index, or nil.
func (g *GlobalState) layerByIndex(index uint64) *Layer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if index >= uint64(len(g.layers)) {
		return nil
	}
	return g.layers[index]
}

// LayerByName returns the layer registered under name, if any.
func (g *GlobalState) LayerByName(name string) (*Layer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.byName[name]
	return l, ok
}

// Layers returns a snapshot of every mounted layer, index order.
func (g *GlobalState) Layers() []*Layer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Layer, len(g.layers))
	copy(out, g.layers)
	return out
}

// Root returns the layer currently serving the mount's root, i.e. the layer
// recorded in the superblock.
func (g *GlobalState) Root() *Layer {
	return g.layerByIndex(g.Superblock.RootLayer)
}

// SetSnapshotAnchor reassigns the layer under which the ioctl stat-layer
// directory is rooted. Per §9a, already-issued layer IDs under the old
// anchor remain reachable only by direct layer-index lookup afterward; they
// are not carried forward into the new anchor's directory.
func (g *GlobalState) SetSnapshotAnchor(index uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshotAnchor = index
}

func (g *GlobalState) SnapshotAnchor() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshotAnchor
}

// Unmounting reports whether a shutdown has been requested; RequestDispatch
// consults this to reject new mutating ops during unmount.
func (g *GlobalState) Unmounting() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unmounting
}

func (g *GlobalState) SetUnmounting() {
	g.mu.Lock()
	g.unmounting = true
	g.mu.Unlock()
}
