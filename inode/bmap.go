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
	"sort"

	"github.com/portworx/lcfs/extent"
)

// Mapping is one (logicalBlock -> physicalBlock, length) run.
type Mapping struct {
	Logical  uint64
	Physical uint64
	Length   uint64
}

func (m Mapping) logicalEnd() uint64 { return m.Logical + m.Length }
func (m Mapping) adjacent(o Mapping) bool {
	return m.logicalEnd() == o.Logical && m.Physical+m.Length == o.Physical
}

// BlockMap is a regular file's logical-to-physical block mapping (spec
// §4.7). A freshly written, never-fragmented file collapses to a single
// run, the "compact representation"; the first write that breaks
// contiguity (a non-appending write, or a hole) promotes it to the general
// sparse form. Both cases are represented uniformly here as a sorted,
// disjoint run list — Compact() reports whether it currently happens to be
// one run, for callers that persist the cheaper encoding.
type BlockMap struct {
	runs []Mapping
}

// NewBlockMap returns an empty block map (a file with no allocated data
// blocks yet).
func NewBlockMap() *BlockMap {
	return &BlockMap{}
}

// Compact reports whether the map is currently a single contiguous run
// starting at logical block 0, i.e. the on-disk compact extent form
// applies (spec §4.7's "single contiguous extent").
func (b *BlockMap) Compact() (extent.Extent, bool) {
	if len(b.runs) != 1 || b.runs[0].Logical != 0 {
		return extent.Extent{}, false
	}
	r := b.runs[0]
	return extent.Extent{Start: r.Physical, Length: r.Length}, true
}

// Runs returns a snapshot of the mapping's runs in logical order.
func (b *BlockMap) Runs() []Mapping {
	out := make([]Mapping, len(b.runs))
	copy(out, b.runs)
	return out
}

// Read returns the runs overlapping [logical, logical+count), in logical
// order, with gaps represented as zero-Physical, non-hole-marked entries
// omitted — callers treat any logical range not covered by a returned run
// as a hole of zeroed bytes.
func (b *BlockMap) Read(logical, count uint64) []Mapping {
	end := logical + count
	var out []Mapping
	for _, r := range b.runs {
		if r.logicalEnd() <= logical || r.Logical >= end {
			continue
		}
		start := r.Logical
		rend := r.logicalEnd()
		if start < logical {
			shift := logical - start
			start = logical
			r.Physical += shift
			r.Length -= shift
			r.Logical = start
		}
		if rend > end {
			r.Length -= rend - end
		}
		out = append(out, r)
	}
	return out
}

// Insert records a new logical->physical run, merging with adjacent runs
// and overwriting any previously mapped range it covers. Overwritten
// sub-runs are returned so the caller (Inode.Write) can free the physical
// blocks they described back to the allocator, unless the inode is shared
// with a parent — in which case the caller must not free them.
func (b *BlockMap) Insert(m Mapping) []Mapping {
	freed := b.removeRangeLocked(m.Logical, m.Length)
	b.insertRunLocked(m)
	return freed
}

func (b *BlockMap) insertRunLocked(m Mapping) {
	i := sort.Search(len(b.runs), func(i int) bool { return b.runs[i].Logical >= m.Logical })

	if i > 0 && b.runs[i-1].adjacent(m) {
		m = Mapping{Logical: b.runs[i-1].Logical, Physical: b.runs[i-1].Physical, Length: b.runs[i-1].Length + m.Length}
		i--
		b.runs = append(b.runs[:i], b.runs[i+1:]...)
	}
	if i < len(b.runs) && m.adjacent(b.runs[i]) {
		m = Mapping{Logical: m.Logical, Physical: m.Physical, Length: m.Length + b.runs[i].Length}
		b.runs = append(b.runs[:i], b.runs[i+1:]...)
	}

	b.runs = append(b.runs, Mapping{})
	copy(b.runs[i+1:], b.runs[i:])
	b.runs[i] = m
}

// removeRangeLocked removes [logical, logical+length) from the map,
// splitting any run that straddles the boundary, and returns the physical
// sub-runs that were covering that range (for freeing by the caller).
func (b *BlockMap) removeRangeLocked(logical, length uint64) []Mapping {
	end := logical + length
	var freed []Mapping
	var kept []Mapping

	for _, r := range b.runs {
		rend := r.logicalEnd()
		if rend <= logical || r.Logical >= end {
			kept = append(kept, r)
			continue
		}

		if r.Logical < logical {
			kept = append(kept, Mapping{Logical: r.Logical, Physical: r.Physical, Length: logical - r.Logical})
		}
		overlapStart := r.Logical
		if overlapStart < logical {
			overlapStart = logical
		}
		overlapEnd := rend
		if overlapEnd > end {
			overlapEnd = end
		}
		freed = append(freed, Mapping{
			Logical:  overlapStart,
			Physical: r.Physical + (overlapStart - r.Logical),
			Length:   overlapEnd - overlapStart,
		})
		if rend > end {
			shift := end - r.Logical
			kept = append(kept, Mapping{Logical: end, Physical: r.Physical + shift, Length: rend - end})
		}
	}

	b.runs = kept
	return freed
}

// clone returns a deep copy for copy-up materialize-on-write; mutating the
// clone never affects the parent's map.
func (b *BlockMap) clone() *BlockMap {
	c := &BlockMap{runs: make([]Mapping, len(b.runs))}
	copy(c.runs, b.runs)
	return c
}

// Truncate releases every run at or beyond newLogicalLength blocks,
// trimming any run that straddles the new boundary, and returns the
// physical sub-runs freed.
func (b *BlockMap) Truncate(newLogicalLength uint64) []Mapping {
	var maxEnd uint64
	for _, r := range b.runs {
		if r.logicalEnd() > maxEnd {
			maxEnd = r.logicalEnd()
		}
	}
	if maxEnd <= newLogicalLength {
		return nil
	}
	return b.removeRangeLocked(newLogicalLength, maxEnd-newLogicalLength)
}
