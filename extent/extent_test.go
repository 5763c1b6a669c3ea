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

package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertCoalescesAdjacent(t *testing.T) {
	l := NewList()
	l.Insert(Extent{Start: 100, Length: 10})
	l.Insert(Extent{Start: 110, Length: 5})
	l.Insert(Extent{Start: 90, Length: 10})

	require.Equal(t, 1, l.Len())
	assert.Equal(t, Extent{Start: 90, Length: 25}, l.Iter()[0])
}

func TestInsertOutOfOrderStillCoalesces(t *testing.T) {
	// S7: freeing adjacent blocks in any order produces a single extent.
	l := NewList()
	l.Insert(Extent{Start: 10, Length: 1})
	l.Insert(Extent{Start: 12, Length: 1})
	l.Insert(Extent{Start: 11, Length: 1})

	require.Equal(t, 1, l.Len())
	assert.Equal(t, Extent{Start: 10, Length: 3}, l.Iter()[0])
}

func TestInsertKeepsDisjointGapsSeparate(t *testing.T) {
	l := NewList()
	l.Insert(Extent{Start: 0, Length: 5})
	l.Insert(Extent{Start: 10, Length: 5})

	require.Equal(t, 2, l.Len())
}

func TestRemoveFirstFit(t *testing.T) {
	l := NewList(Extent{Start: 0, Length: 5}, Extent{Start: 100, Length: 50})

	got, ok := l.RemoveFirstFit(20)
	require.True(t, ok)
	assert.Equal(t, Extent{Start: 100, Length: 20}, got)
	assert.Equal(t, uint64(35), l.Total())

	_, ok = l.RemoveFirstFit(1000)
	assert.False(t, ok)
}

func TestRemoveExact(t *testing.T) {
	l := NewList(Extent{Start: 0, Length: 100})

	ok := l.RemoveExact(Extent{Start: 40, Length: 10})
	require.True(t, ok)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, uint64(90), l.Total())

	ok = l.RemoveExact(Extent{Start: 40, Length: 10})
	assert.False(t, ok)
}

func TestRemoveNearPrefersAdjacency(t *testing.T) {
	l := NewList(Extent{Start: 0, Length: 10}, Extent{Start: 1000, Length: 10})

	got, ok := l.RemoveNear(1000, 5)
	require.True(t, ok)
	assert.Equal(t, uint64(1000), got.Start)
}

func TestTotalConservedAcrossInsertRemove(t *testing.T) {
	l := NewList(Extent{Start: 0, Length: 1024})
	before := l.Total()

	e, ok := l.RemoveFirstFit(300)
	require.True(t, ok)
	assert.Equal(t, before-300, l.Total())

	l.Insert(e)
	assert.Equal(t, before, l.Total())
	assert.Equal(t, 1, l.Len())
}
