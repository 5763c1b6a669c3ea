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

package pagecache

import (
	"testing"

	"github.com/portworx/lcfs/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(b byte) []byte {
	buf := make([]byte, 4096)
	buf[0] = b
	return buf
}

func TestAdjacentWritesStayInOneCluster(t *testing.T) {
	dev := device.NewMemDevice(4096, 16)
	c := New(dev, 128, nil, nil)

	require.NoError(t, c.Put(0, block(1), DirtyNew))
	require.NoError(t, c.Put(1, block(2), DirtyNew))
	require.NoError(t, c.Put(2, block(3), DirtyNew))

	// Not yet flushed to the device.
	got, err := dev.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])

	require.NoError(t, c.Flush())

	for i, want := range []byte{1, 2, 3} {
		got, err := dev.ReadBlock(uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got[0])
	}
}

func TestNonAdjacentWriteFlushesPriorCluster(t *testing.T) {
	dev := device.NewMemDevice(4096, 16)
	c := New(dev, 128, nil, nil)

	require.NoError(t, c.Put(0, block(1), DirtyNew))
	require.NoError(t, c.Put(1, block(2), DirtyNew))
	// Skips a block: breaks the run, should flush 0-1 immediately.
	require.NoError(t, c.Put(5, block(9), DirtyNew))

	got, err := dev.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, byte(1), got[0])
	got, err = dev.ReadBlock(1)
	require.NoError(t, err)
	assert.Equal(t, byte(2), got[0])

	// Block 5 still pending.
	got, err = dev.ReadBlock(5)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])

	require.NoError(t, c.Flush())
	got, err = dev.ReadBlock(5)
	require.NoError(t, err)
	assert.Equal(t, byte(9), got[0])
}

func TestClusterCapForcesFlush(t *testing.T) {
	dev := device.NewMemDevice(4096, 16)
	c := New(dev, 2, nil, nil)

	require.NoError(t, c.Put(0, block(1), DirtyNew))
	require.NoError(t, c.Put(1, block(2), DirtyNew))
	// Cap of 2 reached: should already be on disk without an explicit Flush.
	got, err := dev.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, byte(1), got[0])
}

func TestCleanPagesAreNeverClustered(t *testing.T) {
	dev := device.NewMemDevice(4096, 16)
	c := New(dev, 128, nil, nil)

	require.NoError(t, c.Put(0, block(7), Clean))
	p := c.Get(0)
	require.NotNil(t, p)
	assert.Equal(t, Clean, p.State)

	require.NoError(t, c.Flush())
	got, err := dev.ReadBlock(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])
}
