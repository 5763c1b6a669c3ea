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
)

func TestMaterializeDirClonesOnceThenIsNoop(t *testing.T) {
	parent := NewInode(5, 0, KindDirectory, 1, 0755, 0, 0, 4096, time.Unix(0, 0))
	parent.Dir.Add("a", 1, KindRegular)
	child := parent.clone(5, 1)

	child.MaterializeDir()
	assert.False(t, child.Flags.Shared)
	assert.True(t, child.Flags.Private)
	assert.NotSame(t, parent.Dir, child.Dir)

	priorDir := child.Dir
	child.MaterializeDir() // second call must be a no-op
	assert.Same(t, priorDir, child.Dir)

	child.Dir.Add("b", 2, KindRegular)
	assert.Equal(t, 1, parent.Dir.Len(), "parent must not observe child's post-materialize mutation")
}

func TestMaterializeBmapClonesAndIsolates(t *testing.T) {
	parent := NewInode(5, 0, KindRegular, 1, 0644, 0, 0, 4096, time.Unix(0, 0))
	parent.Bmap.Insert(Mapping{Logical: 0, Physical: 1000, Length: 5})
	child := parent.clone(5, 1)

	child.MaterializeBmap()
	child.Bmap.Insert(Mapping{Logical: 5, Physical: 2000, Length: 5})

	parentRuns := parent.Bmap.Runs()
	var parentTotal uint64
	for _, r := range parentRuns {
		parentTotal += r.Length
	}
	assert.Equal(t, uint64(5), parentTotal)
}

func TestMaterializeXattrsIsIndependentOfBodyFlag(t *testing.T) {
	parent := NewInode(5, 0, KindRegular, 1, 0644, 0, 0, 4096, time.Unix(0, 0))
	parent.Xattrs.Set("k", []byte("v"))
	child := parent.clone(5, 1)

	// Materializing xattrs alone must not flip the body's Shared flag.
	child.MaterializeXattrs()
	assert.False(t, child.Flags.XattrsShared)
	assert.True(t, child.Flags.Shared)

	child.Xattrs.Set("k", []byte("v2"))
	got, _ := parent.Xattrs.Get("k")
	assert.Equal(t, "v", string(got))
}
