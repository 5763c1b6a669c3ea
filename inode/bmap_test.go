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

func TestBlockMapCompactSingleRun(t *testing.T) {
	b := NewBlockMap()
	freed := b.Insert(Mapping{Logical: 0, Physical: 1000, Length: 300})
	assert.Empty(t, freed)

	e, ok := b.Compact()
	require.True(t, ok)
	assert.Equal(t, uint64(1000), e.Start)
	assert.Equal(t, uint64(300), e.Length)
}

func TestBlockMapNonAppendingWriteBreaksCompact(t *testing.T) {
	b := NewBlockMap()
	b.Insert(Mapping{Logical: 0, Physical: 1000, Length: 10})
	b.Insert(Mapping{Logical: 20, Physical: 2000, Length: 10})

	_, ok := b.Compact()
	assert.False(t, ok)
	assert.Len(t, b.Runs(), 2)
}

func TestBlockMapReadReportsHoles(t *testing.T) {
	b := NewBlockMap()
	b.Insert(Mapping{Logical: 0, Physical: 1000, Length: 5})
	b.Insert(Mapping{Logical: 10, Physical: 2000, Length: 5})

	got := b.Read(0, 15)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].Logical)
	assert.Equal(t, uint64(10), got[1].Logical)
}

func TestBlockMapInsertOverwriteFreesOldRange(t *testing.T) {
	b := NewBlockMap()
	b.Insert(Mapping{Logical: 0, Physical: 1000, Length: 10})

	freed := b.Insert(Mapping{Logical: 2, Physical: 5000, Length: 3})
	require.NotEmpty(t, freed)

	got := b.Read(0, 10)
	// [0,2) old, [2,5) new, [5,10) old
	require.Len(t, got, 3)
	assert.Equal(t, uint64(5000), got[1].Physical)
}

func TestBlockMapTruncateShrinks(t *testing.T) {
	b := NewBlockMap()
	b.Insert(Mapping{Logical: 0, Physical: 1000, Length: 100})

	freed := b.Truncate(50)
	require.NotEmpty(t, freed)
	assert.Equal(t, uint64(50), freed[0].Length)

	e, ok := b.Compact()
	require.True(t, ok)
	assert.Equal(t, uint64(50), e.Length)
}

func TestBlockMapAdjacentInsertsCoalesce(t *testing.T) {
	b := NewBlockMap()
	b.Insert(Mapping{Logical: 0, Physical: 1000, Length: 5})
	b.Insert(Mapping{Logical: 5, Physical: 1005, Length: 5})

	assert.Len(t, b.Runs(), 1)
	e, ok := b.Compact()
	require.True(t, ok)
	assert.Equal(t, uint64(10), e.Length)
}
