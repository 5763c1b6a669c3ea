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

// DirEntry is one directory entry.
type DirEntry struct {
	Name string
	Ino  uint64
	Kind Kind
}

// DirStore is a directory inode's entry list (spec §4.6). In memory every
// directory is backed by a Go map, which is already O(1) regardless of
// size. On disk, FlushOne writes a directory's entries into one overflow
// block (EncodeOverflow) whatever their count: entries are never stored in
// the inode's own block, overflow blocks are not chained, there is no
// hash-bucket layout, and a body larger than one block is not persisted.
// order preserves a stable readdir cursor: a cookie is an
// index into it, and a removed slot is tombstoned (name cleared) rather
// than shifted, so concurrent readdir cookies stay valid.
type DirStore struct {
	entries map[string]int // name -> index into order
	order   []DirEntry     // index -> entry; tombstoned slots have Name == ""

	compactThreshold int // tombstoned-slot count that triggers a compaction; 0 disables
	tombstones       int
}

// NewDirStore returns an empty directory body.
func NewDirStore() *DirStore {
	return &DirStore{entries: make(map[string]int)}
}

// SetCompactThreshold bounds how many tombstoned slots order accumulates
// before Remove compacts it away, so a directory churned by repeated
// create/remove cycles doesn't grow order unboundedly (the configured
// directory hash threshold's in-memory counterpart, since this store is
// always a map regardless of live entry count).
func (d *DirStore) SetCompactThreshold(n int) { d.compactThreshold = n }

// compact rebuilds order and entries with tombstoned slots dropped. Live
// readdir cookies taken before a compaction may now skip or repeat entries;
// callers only compact between readdir generations (on Remove), not mid-scan.
func (d *DirStore) compact() {
	live := make([]DirEntry, 0, len(d.order)-d.tombstones)
	entries := make(map[string]int, len(live))
	for _, e := range d.order {
		if e.Name == "" {
			continue
		}
		entries[e.Name] = len(live)
		live = append(live, e)
	}
	d.order = live
	d.entries = entries
	d.tombstones = 0
}

// Lookup returns the entry named name, if present.
func (d *DirStore) Lookup(name string) (DirEntry, bool) {
	i, ok := d.entries[name]
	if !ok {
		return DirEntry{}, false
	}
	return d.order[i], true
}

// Add inserts a new entry. Returns false if name already exists.
func (d *DirStore) Add(name string, ino uint64, kind Kind) bool {
	if _, exists := d.entries[name]; exists {
		return false
	}
	d.order = append(d.order, DirEntry{Name: name, Ino: ino, Kind: kind})
	d.entries[name] = len(d.order) - 1
	return true
}

// Remove deletes the entry named name. Returns false if it did not exist.
func (d *DirStore) Remove(name string) bool {
	i, ok := d.entries[name]
	if !ok {
		return false
	}
	delete(d.entries, name)
	d.order[i] = DirEntry{}
	d.tombstones++
	if d.compactThreshold > 0 && d.tombstones >= d.compactThreshold {
		d.compact()
	}
	return true
}

// Rename moves the entry named oldName into target under newName,
// preserving its inode number and kind. The caller (Inode.Rename) is
// responsible for copy-up/materialize of both directories and for the
// spec §5 ascending-inode-number lock ordering when self != target.
func (d *DirStore) Rename(oldName, newName string, target *DirStore) bool {
	e, ok := d.Lookup(oldName)
	if !ok {
		return false
	}
	// Overwrite semantics: replacing an existing newName entry.
	if target.entries != nil {
		if i, exists := target.entries[newName]; exists {
			target.order[i] = DirEntry{}
			delete(target.entries, newName)
			target.tombstones++
		}
	}
	d.Remove(oldName)
	target.order = append(target.order, DirEntry{Name: newName, Ino: e.Ino, Kind: e.Kind})
	target.entries[newName] = len(target.order) - 1
	return true
}

// Iterate returns up to count live entries starting at cookie, plus the
// cookie to resume from on the next call (len(d.order) once exhausted).
func (d *DirStore) Iterate(cookie int, count int) ([]DirEntry, int) {
	var out []DirEntry
	i := cookie
	for i < len(d.order) && len(out) < count {
		if d.order[i].Name != "" {
			out = append(out, d.order[i])
		}
		i++
	}
	return out, i
}

// Len returns the number of live (non-tombstoned) entries.
func (d *DirStore) Len() int {
	n := 0
	for _, e := range d.order {
		if e.Name != "" {
			n++
		}
	}
	return n
}

// clone returns a shallow copy for copy-up materialization; Insert/Remove
// on the clone never observe the parent's subsequent mutations.
func (d *DirStore) clone() *DirStore {
	c := &DirStore{
		entries:          make(map[string]int, len(d.entries)),
		order:            make([]DirEntry, len(d.order)),
		compactThreshold: d.compactThreshold,
	}
	copy(c.order, d.order)
	for k, v := range d.entries {
		c.entries[k] = v
	}
	return c
}
