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

// Package extent implements interval arithmetic over block ranges: sorted,
// disjoint, coalesced lists used both as free-block pools (BlockAllocator)
// and as per-inode block-map representations (BlockMap).
package extent

import "sort"

// Extent is a contiguous run of Length blocks starting at Start.
type Extent struct {
	Start  uint64
	Length uint64
}

// End returns the first block past the extent.
func (e Extent) End() uint64 {
	return e.Start + e.Length
}

// adjacent reports whether e immediately precedes o, with no gap between
// them, so the two can be merged into one extent.
func (e Extent) adjacent(o Extent) bool {
	return e.End() == o.Start
}

// List is a sorted-by-Start, disjoint, coalesced sequence of extents. The
// zero value is an empty list. Not safe for concurrent use; callers hold
// the containing pool's lock (BlockAllocator's layer lock or global lock).
type List struct {
	extents []Extent
}

// NewList builds a List from an arbitrary slice of extents, sorting and
// coalescing them.
func NewList(extents ...Extent) *List {
	l := &List{}
	for _, e := range extents {
		if e.Length > 0 {
			l.Insert(e)
		}
	}
	return l
}

// Len returns the number of disjoint extents currently held.
func (l *List) Len() int {
	return len(l.extents)
}

// Total returns the sum of all extent lengths.
func (l *List) Total() uint64 {
	var total uint64
	for _, e := range l.extents {
		total += e.Length
	}
	return total
}

// Iter returns a snapshot slice of the extents in sorted order. Callers
// must not mutate the returned slice.
func (l *List) Iter() []Extent {
	out := make([]Extent, len(l.extents))
	copy(out, l.extents)
	return out
}

// Insert adds e to the list, merging it with any adjacent extents so the
// list remains sorted, disjoint and coalesced. Matches S7's free-coalescing
// invariant: freeing adjacent blocks in any order yields a single extent.
func (l *List) Insert(e Extent) {
	if e.Length == 0 {
		return
	}

	i := sort.Search(len(l.extents), func(i int) bool {
		return l.extents[i].Start >= e.Start
	})

	merged := e

	// Merge with the extent immediately before the insertion point, if any.
	if i > 0 && l.extents[i-1].adjacent(merged) {
		merged = Extent{Start: l.extents[i-1].Start, Length: l.extents[i-1].Length + merged.Length}
		i--
		l.extents = append(l.extents[:i], l.extents[i+1:]...)
	}

	// Merge with every extent now overlapping or adjacent on the right.
	for i < len(l.extents) && merged.End() >= l.extents[i].Start {
		right := l.extents[i]
		end := merged.End()
		if right.End() > end {
			end = right.End()
		}
		merged = Extent{Start: merged.Start, Length: end - merged.Start}
		l.extents = append(l.extents[:i], l.extents[i+1:]...)
	}

	l.extents = append(l.extents, Extent{})
	copy(l.extents[i+1:], l.extents[i:])
	l.extents[i] = merged
}

// RemoveFirstFit removes the first extent (in sorted order) with at least
// count blocks and returns a count-length sub-extent from its start,
// returning any remainder to the list. ok is false if no extent is large
// enough.
func (l *List) RemoveFirstFit(count uint64) (Extent, bool) {
	for i, e := range l.extents {
		if e.Length >= count {
			taken := Extent{Start: e.Start, Length: count}
			if e.Length == count {
				l.extents = append(l.extents[:i], l.extents[i+1:]...)
			} else {
				l.extents[i] = Extent{Start: e.Start + count, Length: e.Length - count}
			}
			return taken, true
		}
	}
	return Extent{}, false
}

// RemoveNear removes a count-length range as close to hint as possible.
// Among the extents at least count blocks long it picks the one whose start
// is nearest hint, on either side (the first such extent in the list on a
// tie). If hint lies inside that extent with room for count blocks from
// hint, the range is carved out at hint; otherwise it is taken from the
// extent's start. Returns false if no extent is long enough.
// Used by BlockAllocator.allocNear to keep a file's blocks contiguous.
func (l *List) RemoveNear(hint uint64, count uint64) (Extent, bool) {
	bestIdx := -1
	var bestDist uint64 = ^uint64(0)

	for i, e := range l.extents {
		if e.Length < count {
			continue
		}
		var dist uint64
		if e.Start >= hint {
			dist = e.Start - hint
		} else {
			dist = hint - e.Start
		}
		if dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	if bestIdx < 0 {
		return Extent{}, false
	}

	e := l.extents[bestIdx]
	var taken Extent
	if e.Start >= hint || e.Start+e.Length-count < hint {
		taken = Extent{Start: e.Start, Length: count}
		if e.Length == count {
			l.extents = append(l.extents[:bestIdx], l.extents[bestIdx+1:]...)
		} else {
			l.extents[bestIdx] = Extent{Start: e.Start + count, Length: e.Length - count}
		}
	} else {
		taken = Extent{Start: hint, Length: count}
		before := Extent{Start: e.Start, Length: hint - e.Start}
		after := Extent{Start: hint + count, Length: e.End() - (hint + count)}
		repl := make([]Extent, 0, 2)
		if before.Length > 0 {
			repl = append(repl, before)
		}
		if after.Length > 0 {
			repl = append(repl, after)
		}
		l.extents = append(l.extents[:bestIdx], append(repl, l.extents[bestIdx+1:]...)...)
	}
	return taken, true
}

// RemoveExact removes precisely the given range, which must be wholly
// contained within a single existing extent. Returns false if no extent
// contains it (NotFound at the caller's layer).
func (l *List) RemoveExact(e Extent) bool {
	for i, cur := range l.extents {
		if cur.Start <= e.Start && e.End() <= cur.End() {
			var repl []Extent
			if before := (Extent{Start: cur.Start, Length: e.Start - cur.Start}); before.Length > 0 {
				repl = append(repl, before)
			}
			if after := (Extent{Start: e.End(), Length: cur.End() - e.End()}); after.Length > 0 {
				repl = append(repl, after)
			}
			l.extents = append(l.extents[:i], append(repl, l.extents[i+1:]...)...)
			return true
		}
	}
	return false
}
