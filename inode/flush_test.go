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
	"testing"
	"time"

	"github.com/portworx/lcfs/alloc"
	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/extent"
	"github.com/portworx/lcfs/pagecache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlushFixture(t *testing.T) (device.BlockDevice, *alloc.Layer, *pagecache.Cache, *Chain) {
	t.Helper()
	dev := device.NewMemDevice(512, 1000)
	global := alloc.NewGlobal(extent.Extent{Start: 0, Length: 1000}, nil)
	layerAlloc := alloc.NewLayer(global, 0, 0)
	cache := pagecache.New(dev, 8, nil, nil)
	return dev, layerAlloc, cache, NewChain()
}

// S5: a dirty inode flushes to a newly assigned block, and a second flush
// with no further dirtying is a no-op.
func TestFlushOnePersistsDirtyInodeOnce(t *testing.T) {
	dev, layerAlloc, cache, chain := newFlushFixture(t)
	ino := NewInode(1, 0, KindRegular, 1, 0644, 0, 0, 512, time.Unix(0, 0))

	require.NoError(t, FlushOneForTest(t, ino, dev, layerAlloc, cache, chain))
	require.NoError(t, cache.Flush())

	block, ok := chain.get(1)
	require.True(t, ok)

	buf, err := dev.ReadBlock(block)
	require.NoError(t, err)
	decoded, tombstone, err := DecodeDinode(buf, 0)
	require.NoError(t, err)
	assert.False(t, tombstone)
	assert.Equal(t, uint64(1), decoded.Number)

	assert.False(t, ino.Dirty())
}

// Removed-and-never-persisted inodes are just dropped from the hash, not
// written as tombstones.
func TestFlushOneDropsNeverPersistedRemovedInode(t *testing.T) {
	dev, layerAlloc, cache, chain := newFlushFixture(t)
	s := newTestStore(t, 0, nil)
	ino := NewInode(2, 0, KindRegular, 1, 0644, 0, 0, 512, time.Unix(0, 0))
	s.Insert(ino)
	ino.Flags.Removed = true

	require.NoError(t, s.FlushOne(ino, dev, layerAlloc, cache, chain))

	_, ok := chain.get(2)
	assert.False(t, ok)
	_, ok = s.Lookup(2)
	assert.False(t, ok)
}

// Removed-but-previously-persisted inodes are rewritten as a tombstone so a
// remount's scan can skip the slot (spec §7).
func TestFlushOneTombstonesPreviouslyPersistedRemovedInode(t *testing.T) {
	dev, layerAlloc, cache, chain := newFlushFixture(t)
	s := newTestStore(t, 0, nil)
	ino := NewInode(3, 0, KindRegular, 1, 0644, 0, 0, 512, time.Unix(0, 0))
	s.Insert(ino)
	require.NoError(t, s.FlushOne(ino, dev, layerAlloc, cache, chain))
	require.NoError(t, cache.Flush())
	require.True(t, ino.onDisk)

	ino.Flags.Removed = true
	require.NoError(t, s.FlushOne(ino, dev, layerAlloc, cache, chain))
	require.NoError(t, cache.Flush())

	block, _ := chain.get(3)
	buf, err := dev.ReadBlock(block)
	require.NoError(t, err)
	_, tombstone, err := DecodeDinode(buf, 0)
	require.NoError(t, err)
	assert.True(t, tombstone)
}

func TestSyncAllFlushesAllDirtyInodesAndPersistsChain(t *testing.T) {
	dev, layerAlloc, cache, chain := newFlushFixture(t)
	s := newTestStore(t, 0, nil)
	clk := newFakeNowClock(time.Unix(0, 0))
	a := s.Alloc(KindRegular, 1, 0644, 0, 0, 512, clk)
	b := s.Alloc(KindRegular, 1, 0644, 0, 0, 512, clk)

	require.NoError(t, s.SyncAll(dev, layerAlloc, cache, chain))

	assert.False(t, a.Dirty())
	assert.False(t, b.Dirty())
	_, ok := chain.get(a.Number)
	assert.True(t, ok)
	_, ok = chain.get(b.Number)
	assert.True(t, ok)
}

// FlushOneForTest is a thin wrapper so the "no owning Store" single-inode
// test above can call the method without constructing a full Store.
func FlushOneForTest(t *testing.T, ino *Inode, dev device.BlockDevice, layerAlloc *alloc.Layer, cache *pagecache.Cache, chain *Chain) error {
	t.Helper()
	s := newTestStore(t, 0, nil)
	s.Insert(ino)
	return s.FlushOne(ino, dev, layerAlloc, cache, chain)
}
