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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInodeRegularStartsPrivateAndDirty(t *testing.T) {
	now := time.Unix(1000, 0)
	ino := NewInode(7, 0, KindRegular, 1, 0644, 100, 100, 4096, now)

	assert.True(t, ino.Flags.Private)
	assert.False(t, ino.Flags.Shared)
	assert.True(t, ino.Dirty())
	assert.NotNil(t, ino.Bmap)
	assert.NotNil(t, ino.Xattrs)
	assert.Equal(t, uint32(1), ino.Attr.Nlink)
}

func TestNewInodeDirectoryStartsWithDotLinks(t *testing.T) {
	ino := NewInode(2, 0, KindDirectory, 1, 0755, 0, 0, 4096, time.Unix(0, 0))
	assert.Equal(t, uint32(2), ino.Attr.Nlink)
	assert.NotNil(t, ino.Dir)
}

func TestTouchUpdatesTimestampsOnWrite(t *testing.T) {
	ino := NewInode(1, 0, KindRegular, 1, 0644, 0, 0, 4096, time.Unix(0, 0))
	clk := newFakeNowClock(time.Unix(500, 0))

	ino.touch(clk, true)

	assert.Equal(t, clk.now, ino.Attr.Atime)
	assert.Equal(t, clk.now, ino.Attr.Mtime)
	assert.Equal(t, clk.now, ino.Attr.Ctime)
	assert.True(t, ino.Flags.StatDirty)
}

func TestTouchReadOnlyLeavesMtimeAlone(t *testing.T) {
	mtime := time.Unix(10, 0)
	ino := NewInode(1, 0, KindRegular, 1, 0644, 0, 0, 4096, mtime)
	ino.Flags.StatDirty = false
	clk := newFakeNowClock(time.Unix(500, 0))

	ino.touch(clk, false)

	assert.Equal(t, clk.now, ino.Attr.Atime)
	assert.Equal(t, mtime, ino.Attr.Mtime)
	assert.False(t, ino.Flags.StatDirty)
}

// Copy-up clone invariants (S1/S2): the clone keeps the parent's bodies by
// reference and is marked shared, so the first mutation must materialize.
func TestCloneRegularSharesBmapAndMarksShared(t *testing.T) {
	parent := NewInode(5, 0, KindRegular, 1, 0644, 0, 0, 4096, time.Unix(0, 0))
	parent.Bmap.Insert(Mapping{Logical: 0, Physical: 1000, Length: 10})

	child := parent.clone(5, 1)

	require.Equal(t, parent.Number, child.Number)
	assert.Equal(t, uint64(1), child.Layer)
	assert.True(t, child.Flags.Shared)
	assert.True(t, child.Flags.XattrsShared)
	assert.Same(t, parent.Bmap, child.Bmap)
	assert.Same(t, parent.Xattrs, child.Xattrs)
}

func TestCloneDirectorySharesDirStore(t *testing.T) {
	parent := NewInode(5, 0, KindDirectory, 1, 0755, 0, 0, 4096, time.Unix(0, 0))
	parent.Dir.Add("a", 6, KindRegular)

	child := parent.clone(5, 1)

	assert.Same(t, parent.Dir, child.Dir)
	assert.True(t, child.Flags.DirDirty)
}

func TestCloneSymlinkCopiesTarget(t *testing.T) {
	parent := NewInode(5, 0, KindSymlink, 1, 0777, 0, 0, 4096, time.Unix(0, 0))
	parent.SymlinkTarget = "/etc/passwd"

	child := parent.clone(5, 1)
	assert.Equal(t, "/etc/passwd", child.SymlinkTarget)
}

// fakeNowClock is a minimal clock.Clock stand-in local to this test file.
type fakeNowClock struct{ now time.Time }

func newFakeNowClock(t time.Time) *fakeNowClock { return &fakeNowClock{now: t} }
func (f *fakeNowClock) Now() time.Time          { return f.now }
func (f *fakeNowClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.now
	return ch
}
