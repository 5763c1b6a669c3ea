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
	"sync"

	"github.com/portworx/lcfs/alloc"
	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/errors"
	"github.com/portworx/lcfs/logger"
	"github.com/portworx/lcfs/pagecache"
)

// IBlockMax is LC_IBLOCK_MAX, the number of inode-block pointers one index
// block holds before chaining to a continuation block (spec §6).
const IBlockMax = 500

// Chain is the per-layer inode-block index: an in-memory mirror of the
// on-disk chain of index blocks, each an array of up to IBlockMax pointers
// to inode blocks plus a next-block pointer.
type Chain struct {
	mu      sync.Mutex
	blocks  map[uint64]uint64 // inode number -> on-disk inode block
	indexes []uint64          // allocated index blocks, head first
}

// NewChain returns an empty inode-block index chain.
func NewChain() *Chain {
	return &Chain{blocks: make(map[uint64]uint64)}
}

func (c *Chain) set(number, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[number] = block
}

func (c *Chain) get(number uint64) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[number]
	return b, ok
}

// ForEach calls f(inodeNumber, block) for every entry currently recorded in
// the chain, used by the mount-time recount scrub.
func (c *Chain) ForEach(f func(number, block uint64)) {
	c.mu.Lock()
	snapshot := make(map[uint64]uint64, len(c.blocks))
	for k, v := range c.blocks {
		snapshot[k] = v
	}
	c.mu.Unlock()
	for k, v := range snapshot {
		f(k, v)
	}
}

// Head returns the block most recently returned by Persist (0 if the chain
// has never been persisted), for a layer table that needs to record where
// to resume a Load on remount.
func (c *Chain) Head() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.indexes) == 0 {
		return 0
	}
	return c.indexes[0]
}

// LoadChain reconstructs a Chain from the on-disk index-block chain written
// by Persist, starting at head (0 means an empty chain). It mirrors
// Persist's block layout: a 4-byte count, a 4-byte next-block pointer, then
// count (inode number, inode block) pairs.
func LoadChain(dev device.BlockDevice, head uint64) (*Chain, error) {
	c := NewChain()
	if head == 0 {
		return c, nil
	}

	var indexes []uint64
	block := head
	for block != 0 {
		buf, err := dev.ReadBlock(block)
		if err != nil {
			return nil, errors.Wrap(errors.IoError, err, "read index block %d", block)
		}
		if len(buf) < 8 {
			return nil, errors.New(errors.IoError, "index block %d too short", block)
		}
		count := binary.LittleEndian.Uint32(buf[0:4])
		next := uint64(binary.LittleEndian.Uint32(buf[4:8]))
		off := 8
		for i := uint32(0); i < count; i++ {
			if off+16 > len(buf) {
				return nil, errors.New(errors.IoError, "index block %d entry %d truncated", block, i)
			}
			number := binary.LittleEndian.Uint64(buf[off : off+8])
			inodeBlock := binary.LittleEndian.Uint64(buf[off+8 : off+16])
			c.blocks[number] = inodeBlock
			off += 16
		}
		indexes = append(indexes, block)
		block = next
	}

	c.indexes = indexes
	return c, nil
}

// Persist writes the chain as one or more IBlockMax-entry index blocks,
// allocating metadata blocks from layerAlloc as needed, and returns the
// head block number to record in the layer's on-disk descriptor.
func (c *Chain) Persist(dev device.BlockDevice, layerAlloc *alloc.Layer) (uint64, error) {
	c.mu.Lock()
	numbers := make([]uint64, 0, len(c.blocks))
	for n := range c.blocks {
		numbers = append(numbers, n)
	}
	blockOf := make(map[uint64]uint64, len(c.blocks))
	for k, v := range c.blocks {
		blockOf[k] = v
	}
	c.mu.Unlock()

	blockSize := dev.BlockSize()
	entriesPerBlock := int(blockSize/16) - 1 // header word + next-ptr share one slot
	if entriesPerBlock > IBlockMax {
		entriesPerBlock = IBlockMax
	}

	var chainBlocks []uint64
	for i := 0; i < len(numbers); i += entriesPerBlock {
		end := i + entriesPerBlock
		if end > len(numbers) {
			end = len(numbers)
		}
		e, err := layerAlloc.AllocExact(1, true)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, blockSize)
		binary.LittleEndian.PutUint32(buf[0:4], uint32(end-i))
		off := 8
		for _, n := range numbers[i:end] {
			if off+16 > len(buf) {
				break
			}
			binary.LittleEndian.PutUint64(buf[off:off+8], n)
			binary.LittleEndian.PutUint64(buf[off+8:off+16], blockOf[n])
			off += 16
		}
		if err := dev.WriteBlock(e.Start, buf); err != nil {
			return 0, err
		}
		chainBlocks = append(chainBlocks, e.Start)
	}

	// Chain the index blocks together via their next pointer (offset 4).
	for i := 0; i+1 < len(chainBlocks); i++ {
		buf, err := dev.ReadBlock(chainBlocks[i])
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint32(buf[4:8], uint32(chainBlocks[i+1]))
		if err := dev.WriteBlock(chainBlocks[i], buf); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	c.indexes = chainBlocks
	c.mu.Unlock()

	if len(chainBlocks) == 0 {
		return 0, nil
	}
	return chainBlocks[0], nil
}

// FlushOne persists ino's xattr, directory/block-map body and header, in
// that order (spec §4.5). A removed inode that previously had an on-disk
// copy is rewritten as a tombstone; a removed inode that was never
// persisted is simply dropped from the chain.
func (s *Store) FlushOne(ino *Inode, dev device.BlockDevice, layerAlloc *alloc.Layer, cache *pagecache.Cache, chain *Chain) error {
	if ino.Flags.Removed {
		if ino.onDisk {
			block, ok := chain.get(ino.Number)
			if !ok {
				return nil
			}
			if err := cache.Put(block, EncodeTombstone(ino, dev.BlockSize()), pagecache.DirtyUpdated); err != nil {
				return err
			}
			logger.Debugf("inode: tombstoned %d at block %d", ino.Number, block)
		} else {
			s.Remove(ino.Number)
		}
		return nil
	}

	if !ino.Dirty() {
		return nil
	}

	block, ok := chain.get(ino.Number)
	if !ok {
		e, err := layerAlloc.AllocExact(1, true)
		if err != nil {
			return err
		}
		block = e.Start
		chain.set(ino.Number, block)
	}

	var overflowBlock uint64
	payload, err := EncodeOverflow(ino, dev.BlockSize())
	if err != nil {
		// A directory/xattr list/sparse map too large for one overflow block
		// is a known format limit (see DESIGN.md): log it rather than fail
		// the whole flush, the same log-and-continue policy layer.recount
		// applies to an inode count mismatch.
		logger.Warnf("inode: %d: %v; body not persisted this flush", ino.Number, err)
	} else if payload != nil {
		e, err := layerAlloc.AllocExact(1, true)
		if err != nil {
			return err
		}
		if err := cache.Put(e.Start, payload, pagecache.DirtyUpdated); err != nil {
			return err
		}
		overflowBlock = e.Start
	}

	if err := cache.Put(block, EncodeDinode(ino, overflowBlock), pagecache.DirtyUpdated); err != nil {
		return err
	}

	ino.onDisk = true
	ino.Flags.StatDirty = false
	ino.Flags.BmapDirty = false
	ino.Flags.DirDirty = false
	ino.Flags.XattrDirty = false
	return nil
}

// SyncAll iterates every bucket, flushing dirty inodes, then drains the
// layer's pending page cluster and persists the inode-block index chain
// (spec §4.5's syncAll).
func (s *Store) SyncAll(dev device.BlockDevice, layerAlloc *alloc.Layer, cache *pagecache.Cache, chain *Chain) error {
	// Collect first: FlushOne may call s.Remove, which takes a bucket lock
	// ForEach would still be holding.
	var inodes []*Inode
	s.ForEach(func(ino *Inode) { inodes = append(inodes, ino) })
	for _, ino := range inodes {
		if !s.isFrozen() {
			ino.Mu.Lock()
		}
		err := s.FlushOne(ino, dev, layerAlloc, cache, chain)
		if !s.isFrozen() {
			ino.Mu.Unlock()
		}
		if err != nil {
			return err
		}
	}
	if err := cache.Flush(); err != nil {
		return err
	}
	_, err := chain.Persist(dev, layerAlloc)
	return err
}
