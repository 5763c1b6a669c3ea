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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirStoreAddLookupRemove(t *testing.T) {
	d := NewDirStore()
	require.True(t, d.Add("foo", 10, KindRegular))
	assert.False(t, d.Add("foo", 11, KindRegular), "duplicate name must be rejected")

	e, ok := d.Lookup("foo")
	require.True(t, ok)
	assert.Equal(t, uint64(10), e.Ino)

	assert.True(t, d.Remove("foo"))
	assert.False(t, d.Remove("foo"), "second remove of the same name must fail")
	_, ok = d.Lookup("foo")
	assert.False(t, ok)
}

// Readdir cookie stability (S4): a cookie handed out before a removal must
// still resume correctly afterward, since removed slots are tombstoned
// rather than shifted.
func TestDirStoreIterateCookieSurvivesConcurrentRemoval(t *testing.T) {
	d := NewDirStore()
	d.Add("a", 1, KindRegular)
	d.Add("b", 2, KindRegular)
	d.Add("c", 3, KindRegular)

	first, cookie := d.Iterate(0, 1)
	require.Len(t, first, 1)
	assert.Equal(t, "a", first[0].Name)

	d.Remove("b")

	rest, _ := d.Iterate(cookie, 10)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].Name)
}

func TestDirStoreLenIgnoresTombstones(t *testing.T) {
	d := NewDirStore()
	d.Add("a", 1, KindRegular)
	d.Add("b", 2, KindRegular)
	d.Remove("a")

	assert.Equal(t, 1, d.Len())
}

func TestDirStoreRenameMovesEntryAndOverwritesTarget(t *testing.T) {
	src := NewDirStore()
	src.Add("a", 1, KindRegular)
	dst := NewDirStore()
	dst.Add("a", 99, KindRegular) // stale target entry to be overwritten

	ok := src.Rename("a", "a", dst)
	require.True(t, ok)

	_, ok = src.Lookup("a")
	assert.False(t, ok)

	e, ok := dst.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Ino)
	assert.Equal(t, 1, dst.Len())
}

func TestDirStoreCloneIsIndependent(t *testing.T) {
	d := NewDirStore()
	d.Add("a", 1, KindRegular)

	c := d.clone()
	c.Add("b", 2, KindRegular)

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 2, c.Len())
}

func TestDirStoreCompactsOnceTombstonesCrossThreshold(t *testing.T) {
	d := NewDirStore()
	d.SetCompactThreshold(2)

	d.Add("a", 1, KindRegular)
	d.Add("b", 2, KindRegular)
	d.Add("c", 3, KindRegular)

	d.Remove("a")
	assert.Equal(t, 3, len(d.order), "one tombstone is below threshold, no compaction yet")

	d.Remove("b")
	assert.Equal(t, 1, len(d.order), "second tombstone crosses threshold, order is compacted")
	assert.Equal(t, 1, d.Len())

	_, ok := d.Lookup("c")
	assert.True(t, ok, "surviving entry must still be reachable after compaction")
}

func TestDirStoreCloneCarriesCompactThreshold(t *testing.T) {
	d := NewDirStore()
	d.SetCompactThreshold(1)
	d.Add("a", 1, KindRegular)

	c := d.clone()
	c.Add("b", 2, KindRegular)
	c.Remove("b")

	assert.Equal(t, 1, len(c.order), "clone inherits the threshold and compacts away b, leaving only a")
	_, ok := c.Lookup("a")
	assert.True(t, ok)
}
