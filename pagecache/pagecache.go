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

// Package pagecache holds block-sized in-memory pages keyed by (layer,
// block), staging dirty writes and caching recently read metadata. It
// drives the cluster-flush state machine described in spec §4.4 and §9:
// empty -> accumulating(lastBlock) -> flushing, so that adjacent dirty
// blocks are emitted to the BlockDevice as one writeCluster call.
package pagecache

import (
	"sync"

	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/logger"
	"github.com/prometheus/client_golang/prometheus"
)

// State is a page's dirtiness.
type State int

const (
	Clean State = iota
	DirtyNew
	DirtyUpdated
)

// Page is one block-sized buffer, keyed by its device block number.
type Page struct {
	Block uint64
	Data  []byte
	State State
}

// clusterState is the §9 state machine: empty, or accumulating a run
// starting at first with last as the most recently appended block.
// Flushing has no value of its own: flushLocked writes the run out under
// c.mu and returns the cluster to empty.
type clusterState int

const (
	clusterEmpty clusterState = iota
	clusterAccumulating
)

// Cache is one layer's PageCache: a pending-flush cluster plus a small
// lookup table of pages not yet written out. It is not an LRU cache — the
// core relies on InodeStore.syncAll to periodically drain it, and memory
// is bounded only by outstanding work (spec §4.4).
type Cache struct {
	dev         device.BlockDevice
	clusterCap  uint32
	dirtyPages  prometheus.Gauge
	flushCount  prometheus.Counter

	mu      sync.Mutex
	pages   map[uint64]*Page
	state   clusterState
	first   uint64
	last    uint64
	pending []*Page
}

// New creates a PageCache flushing clusters of up to clusterCap blocks to
// dev.
func New(dev device.BlockDevice, clusterCap uint32, dirtyPages prometheus.Gauge, flushCount prometheus.Counter) *Cache {
	return &Cache{
		dev:        dev,
		clusterCap: clusterCap,
		dirtyPages: dirtyPages,
		flushCount: flushCount,
		pages:      make(map[uint64]*Page),
	}
}

// Get returns a cached page for block, or nil if not resident.
func (c *Cache) Get(block uint64) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pages[block]
}

// Put stages buf as the page for block with the given dirty state. If the
// page is dirty and adjacent to the pending cluster, it is folded into it;
// otherwise the pending cluster (if any) is flushed first to keep clusters
// contiguous, then a new cluster is started at block.
func (c *Cache) Put(block uint64, buf []byte, state State) error {
	c.mu.Lock()

	p := &Page{Block: block, Data: buf, State: state}
	_, existed := c.pages[block]
	c.pages[block] = p
	if !existed && state != Clean && c.dirtyPages != nil {
		c.dirtyPages.Inc()
	}

	if state == Clean {
		c.mu.Unlock()
		return nil
	}

	if c.state == clusterAccumulating && block != c.last+1 {
		// Next dirty page doesn't extend the run: flush what we have.
		if err := c.flushLocked(); err != nil {
			c.mu.Unlock()
			return err
		}
	}

	if c.state == clusterEmpty {
		c.state = clusterAccumulating
		c.first = block
	}
	c.last = block
	c.pending = append(c.pending, p)

	full := uint32(len(c.pending)) >= c.clusterCap
	c.mu.Unlock()

	if full {
		c.mu.Lock()
		err := c.flushLocked()
		c.mu.Unlock()
		return err
	}
	return nil
}

// Flush forces the pending cluster out regardless of size, used by
// InodeStore.syncAll to drain a layer's cluster before a commit.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// flushLocked must be called with c.mu held.
func (c *Cache) flushLocked() error {
	if c.state == clusterEmpty || len(c.pending) == 0 {
		c.state = clusterEmpty
		c.pending = nil
		return nil
	}

	bufs := make([][]byte, len(c.pending))
	for i, p := range c.pending {
		bufs[i] = p.Data
	}

	if err := c.dev.WriteCluster(c.first, bufs); err != nil {
		logger.Errorf("pagecache: cluster flush at block %d (%d pages) failed: %v", c.first, len(bufs), err)
		return err
	}

	for _, p := range c.pending {
		if p.State != Clean && c.dirtyPages != nil {
			c.dirtyPages.Dec()
		}
		p.State = Clean
	}
	if c.flushCount != nil {
		c.flushCount.Inc()
	}

	c.state = clusterEmpty
	c.pending = nil
	return nil
}

// Evict drops a clean page from the cache, e.g. once its inode has been
// fully flushed and its buffer is no longer needed.
func (c *Cache) Evict(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pages, block)
}
