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
	"sync"
	"sync/atomic"

	"github.com/portworx/lcfs/clock"
	"github.com/portworx/lcfs/errors"
	"github.com/portworx/lcfs/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// Mode selects the locking/copy-up behavior of Store.Get.
type Mode int

const (
	// ModeRead takes the inode's read lock.
	ModeRead Mode = iota
	// ModeWrite takes the inode's write lock.
	ModeWrite
	// ModeCopy takes the write lock and, if the inode is only found in a
	// parent layer, clones it into this layer first (spec §4.5's
	// copy-up).
	ModeCopy
)

// ParentLookup resolves an inode number in a layer's parent chain,
// returning the layer index it was found on (needed to stamp the clone's
// provenance) and the inode itself. Supplied by the owning Layer so this
// package never imports the layer package (which in turn composes Store).
type ParentLookup func(number uint64) (found *Inode, parentLayer uint64, ok bool)

type bucket struct {
	mu      sync.Mutex
	inodes  map[uint64]*Inode
}

// Store is one layer's InodeStore: a fixed bucket-count hash table keyed
// by inode number modulo the bucket count (spec §4.5).
type Store struct {
	layerIndex uint64
	buckets    []bucket
	nextInode  *uint64 // shared global counter, owned by GlobalState
	frozen     *bool   // layer's snap flag; frozen layers skip inode locking

	parentLookup ParentLookup

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	copyUps     prometheus.Counter

	root         *Inode // direct pointer, bypasses hash lookup
	snapshotRoot *Inode

	dirHashThreshold int // tombstoned-slot compaction threshold handed to new directories
}

// NewStore creates an InodeStore with bucketCount buckets. nextInode is
// the shared (atomic) global inode counter; frozen reflects the owning
// layer's snapshot flag. dirHashThreshold is passed to every directory
// inode this store allocates (0 disables compaction).
func NewStore(layerIndex uint64, bucketCount uint32, nextInode *uint64, frozen *bool, parentLookup ParentLookup,
	cacheHits, cacheMisses, copyUps prometheus.Counter, dirHashThreshold uint32) *Store {
	if bucketCount == 0 {
		bucketCount = 1024
	}
	s := &Store{
		layerIndex:       layerIndex,
		buckets:          make([]bucket, bucketCount),
		nextInode:        nextInode,
		frozen:           frozen,
		parentLookup:     parentLookup,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		copyUps:          copyUps,
		dirHashThreshold: int(dirHashThreshold),
	}
	for i := range s.buckets {
		s.buckets[i].inodes = make(map[uint64]*Inode)
	}
	return s
}

func (s *Store) bucketFor(number uint64) *bucket {
	return &s.buckets[number%uint64(len(s.buckets))]
}

// SetRoot installs the layer's root directory inode, reachable without a
// hash lookup (spec §4.5's tie-break policy).
func (s *Store) SetRoot(ino *Inode) { s.root = ino }

// Root returns the layer's root inode.
func (s *Store) Root() *Inode { return s.root }

// SetSnapshotRoot installs the snapshot-root inode under which
// layer-management ioctls are dispatched.
func (s *Store) SetSnapshotRoot(ino *Inode) { s.snapshotRoot = ino }

// SnapshotRoot returns the layer's snapshot-root inode, if any.
func (s *Store) SnapshotRoot() *Inode { return s.snapshotRoot }

// Insert hashes a freshly created or loaded inode into its bucket.
func (s *Store) Insert(ino *Inode) {
	b := s.bucketFor(ino.Number)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inodes[ino.Number] = ino
}

// Lookup searches the owning bucket without acquiring the inode's own
// lock, an O(bucket) operation per spec §4.5.
func (s *Store) Lookup(number uint64) (*Inode, bool) {
	b := s.bucketFor(number)
	b.mu.Lock()
	defer b.mu.Unlock()
	ino, ok := b.inodes[number]
	return ino, ok
}

// Alloc obtains a new inode number from the global counter, creates an
// inode of the given kind, and hashes it into this layer. The returned
// inode is not yet locked; the caller acquires Mu itself if needed before
// publishing it further.
func (s *Store) Alloc(kind Kind, parent uint64, mode, uid, gid, blkSize uint32, clk clock.Clock) *Inode {
	number := atomic.AddUint64(s.nextInode, 1)
	ino := NewInode(number, s.layerIndex, kind, parent, mode, uid, gid, blkSize, clk.Now())
	if kind == KindDirectory && ino.Dir != nil {
		ino.Dir.SetCompactThreshold(s.dirHashThreshold)
	}
	s.Insert(ino)
	return ino
}

// Get locates number, walking the parent chain when it isn't hashed in
// this layer (spec §3: "an inode appears in exactly one layer's hash;
// lookups walk up the parent chain for shared inodes"). A ModeRead miss
// returns the ancestor's own inode by reference, since a read has no
// write intent to materialize. A ModeWrite/ModeCopy miss instead copies
// the ancestor's inode up into this layer first (spec §4.5's
// copy-up-on-write), so the lock acquired below always protects the
// copy a mutation will land on. If the inode is not found anywhere in the
// chain, Get returns an errors.NotFound error.
func (s *Store) Get(number uint64, mode Mode) (*Inode, error) {
	ino, ok := s.Lookup(number)
	if !ok {
		if s.parentLookup == nil {
			if s.cacheMisses != nil {
				s.cacheMisses.Inc()
			}
			return nil, errors.New(errors.NotFound, "inode %d not found in layer %d", number, s.layerIndex)
		}
		parentIno, parentLayer, found := s.parentLookup(number)
		if !found {
			if s.cacheMisses != nil {
				s.cacheMisses.Inc()
			}
			return nil, errors.New(errors.NotFound, "inode %d not found in layer %d or ancestors", number, s.layerIndex)
		}
		if s.cacheMisses != nil {
			s.cacheMisses.Inc()
		}
		if mode == ModeRead {
			ino = parentIno
		} else {
			ino = s.copyUp(parentIno, parentLayer)
		}
	} else if s.cacheHits != nil {
		s.cacheHits.Inc()
	}

	if s.isFrozen() {
		// Frozen layers bypass inode locking entirely (spec §5): safe
		// because frozen implies no writers exist for this inode.
		return ino, nil
	}

	switch mode {
	case ModeRead:
		ino.Mu.RLock()
	case ModeWrite, ModeCopy:
		ino.Mu.Lock()
	}
	return ino, nil
}

func (s *Store) isFrozen() bool {
	return s.frozen != nil && *s.frozen
}

// copyUp materializes parentIno into this layer. The clone keeps
// parentIno's original number: a layer's inode hash maps a number to at
// most one entry (spec §3), so the child's copy replaces, rather than
// renumbers, the number as seen from this layer downward.
func (s *Store) copyUp(parentIno *Inode, parentLayer uint64) *Inode {
	parentIno.Mu.RLock()
	clone := parentIno.clone(parentIno.Number, s.layerIndex)
	parentIno.Mu.RUnlock()

	s.Insert(clone)
	if s.copyUps != nil {
		s.copyUps.Inc()
	}
	logger.Debugf("inode: copy-up %d from layer %d into layer %d", clone.Number, parentLayer, s.layerIndex)
	return clone
}

// Release unlocks an inode previously returned by Get, mirroring mode.
// Frozen layers skip this symmetrically with Get.
func (s *Store) Release(ino *Inode, mode Mode) {
	if s.isFrozen() {
		return
	}
	switch mode {
	case ModeRead:
		ino.Mu.RUnlock()
	case ModeWrite, ModeCopy:
		ino.Mu.Unlock()
	}
}

// Remove drops an inode entirely from the hash, used when a
// removed inode with no on-disk copy can simply be dropped rather than
// tombstoned (spec §4.5's flushOne policy).
func (s *Store) Remove(number uint64) {
	b := s.bucketFor(number)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inodes, number)
}

// ForEach calls f for every inode currently hashed in this layer, used by
// syncAll and by the free-list conservation test helper. f must not call
// back into Store.
func (s *Store) ForEach(f func(*Inode)) {
	for i := range s.buckets {
		s.buckets[i].mu.Lock()
		for _, ino := range s.buckets[i].inodes {
			f(ino)
		}
		s.buckets[i].mu.Unlock()
	}
}
