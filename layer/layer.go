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

// Package layer implements the LCFS layer tree (spec §3): GlobalState (the
// mounted device's superblock and shared allocator), Layer (one point in
// the layer tree, owning an InodeStore/allocator/PageCache/Chain) and
// LayerManager (create/remove/commit across the tree). This is the piece
// that wires inode.Store's ParentLookup callback across layer boundaries,
// the seam the inode package was deliberately left unaware of.
package layer

import (
	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"
	"github.com/portworx/lcfs/alloc"
	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/inode"
	"github.com/portworx/lcfs/logger"
	"github.com/portworx/lcfs/pagecache"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the optional prometheus collectors threaded down into
// every layer's Store/Cache/Allocator. Any field may be nil.
type Metrics struct {
	FreeBlocks  prometheus.Gauge
	DirtyPages  prometheus.Gauge
	FlushCount  prometheus.Counter
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CopyUps     prometheus.Counter
}

// Layer is one node of the layer tree: a parent pointer, its own InodeStore,
// local block-allocator pools, a PageCache and an inode-block index Chain
// (spec §3's Layer struct).
type Layer struct {
	Index  uint64
	Name   string
	UUID   uuid.UUID
	Parent *Layer

	ReadOnly bool
	Frozen   bool // snapshot: no writers remain, InodeStore skips locking

	Store *inode.Store
	Alloc *alloc.Layer
	Cache *pagecache.Cache
	Chain *inode.Chain
	Dev   device.BlockDevice // shared device backing the whole mounted tree

	// inode counts maintained incrementally and cross-checked at mount time
	// (§9b's "recount is authoritative" policy). mu is an InvariantMutex so a
	// count going negative (a Dec without a matching Inc) panics at the Lock
	// call site that made it wrong, not at some unrelated point later.
	mu         syncutil.InvariantMutex
	icountMem  int
	icountDisk int
}

func (l *Layer) checkInvariants() {
	if l.icountMem < 0 || l.icountDisk < 0 {
		panic("layer: inode count went negative")
	}
}

// parentLookup implements inode.ParentLookup, walking this layer's ancestor
// chain. It is handed to inode.NewStore as a closure so the inode package
// never has to import layer.
func (l *Layer) parentLookup(number uint64) (*inode.Inode, uint64, bool) {
	for p := l.Parent; p != nil; p = p.Parent {
		if ino, ok := p.Store.Lookup(number); ok {
			return ino, p.Index, true
		}
	}
	return nil, 0, false
}

func newLayer(index uint64, name string, parent *Layer, readOnly bool, nextInode *uint64, global *alloc.Global, dev device.BlockDevice, cfg Config, m Metrics) *Layer {
	cfg = cfg.withDefaults()
	l := &Layer{
		Index:    index,
		Name:     name,
		UUID:     uuid.New(),
		Parent:   parent,
		ReadOnly: readOnly,
		Alloc:    alloc.NewLayer(global, cfg.MetadataSlabSize, cfg.DataSlabSize),
		Chain:    inode.NewChain(),
		Dev:      dev,
	}
	l.mu = syncutil.NewInvariantMutex(l.checkInvariants)
	l.Cache = pagecache.New(dev, cfg.ClusterCap, m.DirtyPages, m.FlushCount)
	l.Store = inode.NewStore(index, cfg.ICacheBuckets, nextInode, &l.Frozen, l.parentLookup, m.CacheHits, m.CacheMisses, m.CopyUps, cfg.DirHashThreshold)
	return l
}

// IncMem/DecMem/IncDisk track the recount hint incrementally; mount-time
// scrub recomputes and overwrites them from the chain instead of trusting
// these (§9b).
func (l *Layer) IncMem()  { l.mu.Lock(); l.icountMem++; l.mu.Unlock() }
func (l *Layer) DecMem()  { l.mu.Lock(); l.icountMem--; l.mu.Unlock() }
func (l *Layer) IncDisk() { l.mu.Lock(); l.icountDisk++; l.mu.Unlock() }

// Counts returns the current (in-memory, on-disk) inode counts.
func (l *Layer) Counts() (mem, disk int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.icountMem, l.icountDisk
}

func (l *Layer) setCounts(mem, disk int) {
	l.mu.Lock()
	l.icountMem, l.icountDisk = mem, disk
	l.mu.Unlock()
}

// Sync flushes this layer's dirty inodes, pending cluster and index chain.
func (l *Layer) Sync(dev device.BlockDevice) error {
	return l.Store.SyncAll(dev, l.Alloc, l.Cache, l.Chain)
}

// recount walks the layer's inode-block chain, recomputing in-memory and
// on-disk inode counts, and logs (but does not fail) a mismatch against the
// previously stored hint — the mount-time scrub from §9b.
func (l *Layer) recount(dev device.BlockDevice) error {
	mem := 0
	disk := 0
	l.Store.ForEach(func(*inode.Inode) { mem++ })
	l.Chain.ForEach(func(number, block uint64) {
		buf, err := dev.ReadBlock(block)
		if err != nil {
			logger.Warnf("layer %d: recount: read block %d for inode %d: %v", l.Index, block, number, err)
			return
		}
		if _, tombstone, err := inode.DecodeDinode(buf, l.Index); err == nil && !tombstone {
			disk++
		}
	})

	oldMem, oldDisk := l.Counts()
	if oldMem != 0 && (oldMem != mem || oldDisk != disk) {
		logger.Warnf("layer %d: inode count mismatch after remount: hint (mem=%d disk=%d) vs recount (mem=%d disk=%d); recount wins",
			l.Index, oldMem, oldDisk, mem, disk)
	}
	l.setCounts(mem, disk)
	return nil
}
