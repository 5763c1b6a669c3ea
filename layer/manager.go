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
	"encoding/json"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/portworx/lcfs/alloc"
	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/errors"
	"github.com/portworx/lcfs/extent"
	"github.com/portworx/lcfs/inode"
	"github.com/portworx/lcfs/logger"
)

const (
	defaultClusterCap   = 128
	defaultBucketCount  = 1024
	defaultSlabSize     = alloc.DefaultSlabSize
)

// Config bundles the mount-time sizing knobs every layer is built with:
// the page-cache cluster cap, the inode-store bucket count and the two
// block-allocator slab sizes. A zero field falls back to the historical
// default for that knob.
type Config struct {
	ClusterCap       uint32
	ICacheBuckets    uint32
	MetadataSlabSize uint64
	DataSlabSize     uint64
	DirHashThreshold uint32
}

func (c Config) withDefaults() Config {
	if c.ClusterCap == 0 {
		c.ClusterCap = defaultClusterCap
	}
	if c.ICacheBuckets == 0 {
		c.ICacheBuckets = defaultBucketCount
	}
	if c.MetadataSlabSize == 0 {
		c.MetadataSlabSize = defaultSlabSize
	}
	if c.DataSlabSize == 0 {
		c.DataSlabSize = defaultSlabSize
	}
	return c
}

// LayerManager owns GlobalState and implements layer lifecycle operations:
// mount, createLayer, removeLayer and commit (spec §3's LayerManager).
// These double as the ioctl directory's back end, since jacobsa/fuse's
// fuseops has no generic ioctl op; RequestDispatch exposes them as direct
// Go methods instead (documented in DESIGN.md).
type LayerManager struct {
	state *GlobalState

	// snapshotTablePath, if non-empty, is where commit mirrors a JSON
	// summary of the layer table for "stat-layer"/debugging, written
	// atomically via renameio so a crash mid-write never leaves a torn file.
	snapshotTablePath string
}

// layerTableEntry is the JSON shape of one row in the snapshot mirror.
type layerTableEntry struct {
	Index      uint64    `json:"index"`
	Name       string    `json:"name"`
	UUID       uuid.UUID `json:"uuid"`
	Parent     int64     `json:"parent"`
	ReadOnly   bool      `json:"read_only"`
	Frozen     bool      `json:"frozen"`
	MemCount   int       `json:"inode_count_mem"`
	DiskCount  int       `json:"inode_count_disk"`
	WrittenAt  time.Time `json:"written_at"`
}

// Mount opens a device, reads (or, on a never-before-formatted device,
// initializes) its superblock, and reconstructs the layer tree, running the
// mount-time recount scrub (§9b) over every layer. cfg's zero value uses
// the historical defaults for every sizing knob.
//
// A device that has never been committed gets the fresh bootstrap: a single
// root layer with an empty root directory. A device whose superblock records
// a LayerTableBlock instead has every layer created before the last commit
// reconstructed from that block (spec §8 scenario S1), not just layer 0.
func Mount(dev device.BlockDevice, snapshotTablePath string, cfg Config, m Metrics) (*LayerManager, error) {
	cfg = cfg.withDefaults()

	sb, err := readOrInitSuperblock(dev)
	if err != nil {
		return nil, err
	}

	usable := extent.Extent{Start: reservedBlocks, Length: dev.BlockCount() - reservedBlocks}
	global := alloc.NewGlobal(usable, m.FreeBlocks)

	state := &GlobalState{
		Superblock: sb,
		Device:     dev,
		Global:     global,
		Metrics:    m,
		Sizing:     cfg,
		byName:     make(map[string]*Layer),
	}

	if sb.LayerTableBlock != 0 {
		if err := loadLayerTable(state, dev, cfg, m); err != nil {
			return nil, errors.Wrap(errors.IoError, err, "reconstruct layer table")
		}
	} else {
		bootstrapRootLayer(state, dev, cfg)
	}

	for _, l := range state.layers {
		if l == nil {
			continue
		}
		if err := l.recount(dev); err != nil {
			logger.Warnf("layer %d: recount failed: %v", l.Index, err)
		}
	}

	if err := writeSuperblock(dev, sb); err != nil {
		return nil, err
	}

	return &LayerManager{state: state, snapshotTablePath: snapshotTablePath}, nil
}

// bootstrapRootLayer builds the single, empty root layer a never-before
// committed device starts with.
func bootstrapRootLayer(state *GlobalState, dev device.BlockDevice, cfg Config) {
	root := newLayer(0, "root", nil, false, &state.nextInode, state.Global, dev, cfg, state.Metrics)
	state.layers = append(state.layers, root)
	state.byName["root"] = root
	state.nextLayer = 1

	rootDir := inode.NewInode(RootInodeNumber, 0, inode.KindDirectory, RootInodeNumber, 0755, 0, 0, dev.BlockSize(), time.Now())
	rootDir.Dir.SetCompactThreshold(int(cfg.DirHashThreshold))
	root.Store.Insert(rootDir)
	root.Store.SetRoot(rootDir)

	snapRoot := inode.NewInode(SnapshotRootNumber, 0, inode.KindDirectory, RootInodeNumber, 0555, 0, 0, dev.BlockSize(), time.Now())
	root.Store.Insert(snapRoot)
	root.Store.SetSnapshotRoot(snapRoot)
	rootDir.Dir.Add(SnapshotDirName, SnapshotRootNumber, inode.KindDirectory)

	if state.nextInode < SnapshotRootNumber {
		state.nextInode = SnapshotRootNumber
	}
}

func writeSuperblock(dev device.BlockDevice, sb Superblock) error {
	buf, err := json.Marshal(sb)
	if err != nil {
		return errors.Wrap(errors.Invalid, err, "encode superblock")
	}
	blockSize := dev.BlockSize()
	if uint32(len(buf)) > blockSize {
		return errors.New(errors.Invalid, "superblock encoding (%d bytes) exceeds block size %d", len(buf), blockSize)
	}
	block := make([]byte, blockSize)
	copy(block, buf)
	if err := dev.WriteBlock(0, block); err != nil {
		return errors.Wrap(errors.IoError, err, "write superblock")
	}
	return nil
}

// State returns the manager's GlobalState, for RequestDispatch to resolve
// (layer, inode) pairs against.
func (m *LayerManager) State() *GlobalState { return m.state }

// CreateLayer creates a new writable layer whose parent is the layer named
// parentName (or the current root if parentName is empty), and registers it
// under name. Fails with errors.Exists if name is already taken.
func (m *LayerManager) CreateLayer(name, parentName string, readOnly bool) (*Layer, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if _, exists := m.state.byName[name]; exists {
		return nil, errors.New(errors.Exists, "layer %q already exists", name)
	}

	var parent *Layer
	if parentName != "" {
		p, ok := m.state.byName[parentName]
		if !ok {
			return nil, errors.New(errors.NotFound, "parent layer %q not found", parentName)
		}
		parent = p
	} else {
		parent = m.state.layers[m.state.Superblock.RootLayer]
	}

	index := m.state.nextLayer
	m.state.nextLayer++
	l := newLayer(index, name, parent, readOnly, &m.state.nextInode, m.state.Global, m.state.Device, m.state.Sizing, m.state.Metrics)
	m.state.layers = append(m.state.layers, l)
	m.state.byName[name] = l

	logger.Infof("layer: created %q (index %d) under parent %q", name, index, parent.Name)
	return l, nil
}

// RemoveLayer tears down a layer's local allocator reservation and drops it
// from the name table. It refuses to remove a layer with live children or
// the mounted root.
func (m *LayerManager) RemoveLayer(name string) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	l, ok := m.state.byName[name]
	if !ok {
		return errors.New(errors.NotFound, "layer %q not found", name)
	}
	if l.Index == m.state.Superblock.RootLayer {
		return errors.New(errors.Invalid, "cannot remove the mounted root layer")
	}
	for _, other := range m.state.layers {
		if other != nil && other.Parent == l {
			return errors.New(errors.NotEmpty, "layer %q has dependent layer %q", name, other.Name)
		}
	}

	l.Alloc.Teardown()
	delete(m.state.byName, name)
	m.state.layers[l.Index] = nil
	logger.Infof("layer: removed %q (index %d)", name, l.Index)
	return nil
}

// Commit flushes layer's InodeStore/PageCache/Chain to the device, rewrites
// the layer table (spec §8 scenario S1) so every layer created so far
// survives the next Mount, and, if a snapshot-table mirror path is
// configured, atomically rewrites it too.
func (m *LayerManager) Commit(l *Layer) error {
	if err := l.Sync(m.state.Device); err != nil {
		return errors.Wrap(errors.IoError, err, "commit layer %q", l.Name)
	}

	m.state.mu.Lock()
	if err := persistLayerTable(m.state); err != nil {
		m.state.mu.Unlock()
		return errors.Wrap(errors.IoError, err, "commit layer %q: persist layer table", l.Name)
	}
	m.state.Superblock.LayerTableBlock = layerTableBlock
	sb := m.state.Superblock
	m.state.mu.Unlock()

	if err := writeSuperblock(m.state.Device, sb); err != nil {
		return err
	}
	if err := m.state.Device.Sync(); err != nil {
		return errors.Wrap(errors.IoError, err, "commit layer %q: device sync", l.Name)
	}
	if m.snapshotTablePath != "" {
		if err := m.writeSnapshotTable(); err != nil {
			// Debug mirror only; never fail the commit over it.
			logger.Warnf("layer: snapshot-table mirror write failed: %v", err)
		}
	}
	return nil
}

func (m *LayerManager) writeSnapshotTable() error {
	m.state.mu.RLock()
	entries := make([]layerTableEntry, 0, len(m.state.layers))
	now := time.Now()
	for _, l := range m.state.layers {
		if l == nil {
			continue
		}
		parent := int64(-1)
		if l.Parent != nil {
			parent = int64(l.Parent.Index)
		}
		mem, disk := l.Counts()
		entries = append(entries, layerTableEntry{
			Index: l.Index, Name: l.Name, UUID: l.UUID, Parent: parent,
			ReadOnly: l.ReadOnly, Frozen: l.Frozen,
			MemCount: mem, DiskCount: disk, WrittenAt: now,
		})
	}
	m.state.mu.RUnlock()

	buf, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(m.snapshotTablePath, buf, 0644)
}

// persistedLayerEntry is one row of the on-disk layer table persistLayerTable
// writes and loadLayerTable reads back, distinct from layerTableEntry (the
// debug JSON mirror): this one carries everything Mount needs to rebuild a
// Layer, not just what's useful to a human reading the mirror file.
type persistedLayerEntry struct {
	Index     uint64
	Name      string
	UUID      uuid.UUID
	ParentIdx int64 // -1 for none (layer 0)
	ReadOnly  bool
	Frozen    bool
	ChainHead uint64 // Chain.Persist's return value, 0 if never flushed
}

type persistedLayerTable struct {
	Entries   []persistedLayerEntry
	NextLayer uint64
	NextInode uint64
}

// persistLayerTable encodes every live layer in state.layers into the fixed
// layerTableBlock. The caller must hold state.mu.
func persistLayerTable(state *GlobalState) error {
	entries := make([]persistedLayerEntry, 0, len(state.layers))
	for _, l := range state.layers {
		if l == nil {
			continue
		}
		parent := int64(-1)
		if l.Parent != nil {
			parent = int64(l.Parent.Index)
		}
		entries = append(entries, persistedLayerEntry{
			Index: l.Index, Name: l.Name, UUID: l.UUID, ParentIdx: parent,
			ReadOnly: l.ReadOnly, Frozen: l.Frozen, ChainHead: l.Chain.Head(),
		})
	}
	table := persistedLayerTable{Entries: entries, NextLayer: state.nextLayer, NextInode: state.nextInode}

	buf, err := json.Marshal(table)
	if err != nil {
		return errors.Wrap(errors.Invalid, err, "encode layer table")
	}
	blockSize := state.Device.BlockSize()
	if uint32(len(buf)) > blockSize {
		return errors.New(errors.Invalid, "layer table encoding (%d bytes) exceeds block size %d", len(buf), blockSize)
	}
	block := make([]byte, blockSize)
	copy(block, buf)
	if err := state.Device.WriteBlock(layerTableBlock, block); err != nil {
		return errors.Wrap(errors.IoError, err, "write layer table")
	}
	return nil
}

// loadLayerTable reconstructs state.layers/byName/nextLayer/nextInode from
// the layer table written by persistLayerTable, then replays each layer's
// inode-block chain to repopulate its InodeStore (spec §8 scenario S1).
func loadLayerTable(state *GlobalState, dev device.BlockDevice, cfg Config, m Metrics) error {
	buf, err := dev.ReadBlock(layerTableBlock)
	if err != nil {
		return errors.Wrap(errors.IoError, err, "read layer table")
	}
	var table persistedLayerTable
	if err := json.Unmarshal(trimNulls(buf), &table); err != nil {
		return errors.Wrap(errors.IoError, err, "decode layer table")
	}

	var maxIndex uint64
	for _, e := range table.Entries {
		if e.Index > maxIndex {
			maxIndex = e.Index
		}
	}
	state.layers = make([]*Layer, maxIndex+1)
	state.byName = make(map[string]*Layer)
	state.nextLayer = table.NextLayer
	state.nextInode = table.NextInode

	// First pass creates every layer (parent pointers unresolved: entries
	// aren't guaranteed parent-before-child order); second pass links them.
	for _, e := range table.Entries {
		l := newLayer(e.Index, e.Name, nil, e.ReadOnly, &state.nextInode, state.Global, dev, cfg, m)
		l.UUID = e.UUID
		l.Frozen = e.Frozen
		state.layers[e.Index] = l
		state.byName[e.Name] = l
	}
	for _, e := range table.Entries {
		if e.ParentIdx < 0 {
			continue
		}
		state.layers[e.Index].Parent = state.layers[e.ParentIdx]
	}

	for _, e := range table.Entries {
		l := state.layers[e.Index]
		if e.ChainHead == 0 {
			continue
		}
		chain, err := inode.LoadChain(dev, e.ChainHead)
		if err != nil {
			return errors.Wrap(errors.IoError, err, "load chain for layer %q", e.Name)
		}
		l.Chain = chain
		if err := reloadStoreFromChain(l, dev); err != nil {
			return errors.Wrap(errors.IoError, err, "layer %q: reload inode store", e.Name)
		}
	}

	root := state.layers[state.Superblock.RootLayer]
	if root != nil && root.Store.Root() == nil {
		// The root layer's directory was never committed (e.g. the very
		// first commit targeted a child layer): seed it fresh, same as the
		// never-before-formatted path.
		rootDir := inode.NewInode(RootInodeNumber, 0, inode.KindDirectory, RootInodeNumber, 0755, 0, 0, dev.BlockSize(), time.Now())
		rootDir.Dir.SetCompactThreshold(int(cfg.DirHashThreshold))
		rootDir.Dir.Add(SnapshotDirName, SnapshotRootNumber, inode.KindDirectory)
		root.Store.Insert(rootDir)
		root.Store.SetRoot(rootDir)
	}
	if root != nil && root.Store.SnapshotRoot() == nil {
		snapRoot := inode.NewInode(SnapshotRootNumber, 0, inode.KindDirectory, RootInodeNumber, 0555, 0, 0, dev.BlockSize(), time.Now())
		root.Store.Insert(snapRoot)
		root.Store.SetSnapshotRoot(snapRoot)
	}
	return nil
}

// reloadStoreFromChain walks l's (just-loaded) Chain, decoding each inode
// block (with its overflow body, spec §4.6/§4.7/§4.8) back into l.Store.
func reloadStoreFromChain(l *Layer, dev device.BlockDevice) error {
	var loadErr error
	l.Chain.ForEach(func(number, block uint64) {
		if loadErr != nil {
			return
		}
		buf, err := dev.ReadBlock(block)
		if err != nil {
			loadErr = errors.Wrap(errors.IoError, err, "layer %d: read inode block %d", l.Index, block)
			return
		}
		ino, tombstone, err := inode.DecodeDinodeFull(buf, dev, l.Index)
		if err != nil {
			loadErr = errors.Wrap(errors.IoError, err, "layer %d: decode inode block %d", l.Index, block)
			return
		}
		if tombstone {
			return
		}
		l.Store.Insert(ino)
		switch ino.Number {
		case RootInodeNumber:
			l.Store.SetRoot(ino)
		case SnapshotRootNumber:
			l.Store.SetSnapshotRoot(ino)
		}
	})
	return loadErr
}

func readOrInitSuperblock(dev device.BlockDevice) (Superblock, error) {
	buf, err := dev.ReadBlock(0)
	if err != nil {
		return Superblock{}, errors.Wrap(errors.IoError, err, "read superblock")
	}
	if isZero(buf) {
		return Superblock{
			FSID:       uuid.New(),
			BlockSize:  dev.BlockSize(),
			BlockCount: dev.BlockCount(),
			RootLayer:  0,
		}, nil
	}
	var sb Superblock
	if err := json.Unmarshal(trimNulls(buf), &sb); err != nil {
		return Superblock{}, errors.Wrap(errors.IoError, err, "decode superblock")
	}
	return sb, nil
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func trimNulls(buf []byte) []byte {
	i := 0
	for i < len(buf) && buf[i] != 0 {
		i++
	}
	return buf[:i]
}
