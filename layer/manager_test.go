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
	"testing"
	"time"

	"github.com/portworx/lcfs/clock"
	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/inode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T) device.BlockDevice {
	t.Helper()
	return device.NewMemDevice(4096, 4096)
}

func TestMountInitializesSuperblockAndRootLayer(t *testing.T) {
	dev := newTestDevice(t)
	m, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	root := m.State().Root()
	require.NotNil(t, root)
	assert.Equal(t, uint64(0), root.Index)
	assert.NotNil(t, root.Store.Root())
}

func TestMountSizingConfigPropagatesToCreatedLayers(t *testing.T) {
	dev := newTestDevice(t)
	cfg := Config{ClusterCap: 4, ICacheBuckets: 8, MetadataSlabSize: 64, DataSlabSize: 128, DirHashThreshold: 1}
	m, err := Mount(dev, "", cfg, Metrics{})
	require.NoError(t, err)

	child, err := m.CreateLayer("child", "", false)
	require.NoError(t, err)

	clk := clock.NewSimulatedClock(time.Unix(0, 0))
	dir := child.Store.Alloc(inode.KindDirectory, 1, 0755, 0, 0, dev.BlockSize(), clk)
	dir.Dir.Add("a", 99, inode.KindRegular)
	dir.Dir.Remove("a")
	assert.Equal(t, 0, dir.Dir.Len(), "DirHashThreshold of 1 compacts away the single tombstone immediately")
}

func TestCreateLayerChainsToParent(t *testing.T) {
	dev := newTestDevice(t)
	m, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	l1, err := m.CreateLayer("snap1", "", false)
	require.NoError(t, err)
	assert.Equal(t, m.State().Root(), l1.Parent)

	_, err = m.CreateLayer("snap1", "", false)
	assert.Error(t, err, "duplicate layer name must fail")
}

// S1/S2: an inode created only in the root layer is reachable from a child
// layer via copy-up, keeping its original inode number.
func TestChildLayerCopiesUpFromParent(t *testing.T) {
	dev := newTestDevice(t)
	m, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	root := m.State().Root()
	child, err := m.CreateLayer("child", "", false)
	require.NoError(t, err)

	got, err := child.Store.Get(root.Store.Root().Number, inode.ModeCopy)
	require.NoError(t, err)
	assert.Equal(t, root.Store.Root().Number, got.Number)
	assert.Equal(t, child.Index, got.Layer)
	child.Store.Release(got, inode.ModeCopy)
}

func TestRemoveLayerRefusesWithDependentChild(t *testing.T) {
	dev := newTestDevice(t)
	m, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	parent, err := m.CreateLayer("parent", "", false)
	require.NoError(t, err)
	_, err = m.CreateLayer("child", "parent", false)
	require.NoError(t, err)

	err = m.RemoveLayer("parent")
	assert.Error(t, err)

	require.NoError(t, m.RemoveLayer("child"))
	require.NoError(t, m.RemoveLayer("parent"))
	_ = parent
}

func TestCommitFlushesLayer(t *testing.T) {
	dev := newTestDevice(t)
	m, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	root := m.State().Root()
	ino := root.Store.Alloc(inode.KindRegular, 1, 0644, 0, 0, dev.BlockSize(), clock.NewSimulatedClock(time.Unix(0, 0)))
	assert.True(t, ino.Dirty())

	require.NoError(t, m.Commit(root))
	assert.False(t, ino.Dirty())
}

// spec §8 scenario S1: every layer created before unmount must still exist,
// by name and parentage, after a fresh Mount of the same device.
func TestMountReconstructsFullLayerTreeAfterRemount(t *testing.T) {
	dev := newTestDevice(t)
	m, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	parent, err := m.CreateLayer("parent", "", false)
	require.NoError(t, err)
	child, err := m.CreateLayer("child", "parent", false)
	require.NoError(t, err)

	ino := parent.Store.Alloc(inode.KindRegular, 1, 0644, 0, 0, dev.BlockSize(), clock.NewSimulatedClock(time.Unix(0, 0)))
	_ = ino

	require.NoError(t, m.Commit(parent))
	require.NoError(t, m.Commit(child))

	m2, err := Mount(dev, "", Config{}, Metrics{})
	require.NoError(t, err)

	reparent, ok := m2.State().LayerByName("parent")
	require.True(t, ok)
	assert.Equal(t, m2.State().Root(), reparent.Parent)

	rechild, ok := m2.State().LayerByName("child")
	require.True(t, ok)
	require.NotNil(t, rechild.Parent)
	assert.Equal(t, reparent.Index, rechild.Parent.Index)

	_, ok = reparent.Store.Lookup(ino.Number)
	require.True(t, ok, "committed inode must survive remount in the layer that owns it")

	resolved, err := rechild.Store.Get(ino.Number, inode.ModeRead)
	require.NoError(t, err, "child layer must resolve the inode through the reloaded parent chain")
	rechild.Store.Release(resolved, inode.ModeRead)
}
