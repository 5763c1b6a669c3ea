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

// Package alloc implements the per-layer block allocator: two ExtentMap
// pools (metadata, data) per layer, drawn in slabs from a single global
// free pool (spec §4.3).
package alloc

import (
	"sync"

	"github.com/portworx/lcfs/errors"
	"github.com/portworx/lcfs/extent"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSlabSize is LC_SLAB_SIZE, the number of blocks pulled from the
// global free pool into a layer-local pool on exhaustion.
const DefaultSlabSize = 256

// Global is the process-wide free extent map, guarded by its own lock
// (order 1 in spec §5's lock hierarchy, above any layer pool).
type Global struct {
	mu   sync.Mutex
	free *extent.List

	freeBlocks prometheus.Gauge
}

// NewGlobal creates the global free pool from the device's usable extent,
// i.e. everything past the reserved superblock/bookkeeping region.
func NewGlobal(usable extent.Extent, freeBlocksGauge prometheus.Gauge) *Global {
	g := &Global{free: extent.NewList(usable), freeBlocks: freeBlocksGauge}
	g.reportLocked()
	return g
}

func (g *Global) reportLocked() {
	if g.freeBlocks != nil {
		g.freeBlocks.Set(float64(g.free.Total()))
	}
}

// slab pulls up to want blocks worth of extents out of the global pool,
// for a layer-local pool's exhaustion retry. Returns as many extents as
// fit in the available global free space, which may be fewer than want.
func (g *Global) slab(want uint64) ([]extent.Extent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.free.RemoveFirstFit(want); ok {
		g.reportLocked()
		return []extent.Extent{e}, nil
	}

	// No single extent is large enough; drain whole extents, largest
	// first, until the slab request is satisfied or global is empty.
	var got []extent.Extent
	var total uint64
	for total < want {
		all := g.free.Iter()
		if len(all) == 0 {
			break
		}
		best := all[0]
		for _, e := range all[1:] {
			if e.Length > best.Length {
				best = e
			}
		}
		g.free.RemoveExact(best)
		got = append(got, best)
		total += best.Length
	}
	g.reportLocked()

	if total == 0 {
		return nil, errors.New(errors.NoSpace, "global free pool exhausted")
	}
	return got, nil
}

// returnToGlobal returns extents directly to the global pool, used when a layer is
// torn down and its remaining reservation is released (spec §4.3).
func (g *Global) returnToGlobal(e extent.Extent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.free.Insert(e)
	g.reportLocked()
}

// Total reports the current size of the global free pool, in blocks.
func (g *Global) Total() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.free.Total()
}

// pool is one of a layer's two ExtentMaps (metadata or data).
type pool struct {
	extents  *extent.List
	metadata bool
}

// Layer is the per-layer allocator state: a metadata pool and a data pool,
// both drawn from the shared Global on exhaustion.
type Layer struct {
	mu            sync.Mutex
	global        *Global
	metaSlabSize  uint64
	dataSlabSize  uint64
	metadata      pool
	data          pool
}

// NewLayer creates an allocator for one layer, backed by global. A zero
// metaSlabSize or dataSlabSize falls back to DefaultSlabSize.
func NewLayer(global *Global, metaSlabSize, dataSlabSize uint64) *Layer {
	if metaSlabSize == 0 {
		metaSlabSize = DefaultSlabSize
	}
	if dataSlabSize == 0 {
		dataSlabSize = DefaultSlabSize
	}
	return &Layer{
		global:       global,
		metaSlabSize: metaSlabSize,
		dataSlabSize: dataSlabSize,
		metadata:     pool{extents: extent.NewList(), metadata: true},
		data:         pool{extents: extent.NewList(), metadata: false},
	}
}

func (l *Layer) slabSizeFor(metadata bool) uint64 {
	if metadata {
		return l.metaSlabSize
	}
	return l.dataSlabSize
}

func (l *Layer) poolFor(metadata bool) *pool {
	if metadata {
		return &l.metadata
	}
	return &l.data
}

// AllocExact returns a single contiguous range of count blocks from the
// layer-local pool, pulling a fresh slab from global and retrying once if
// the local pool can't satisfy it. Fails with NoSpace if global is empty.
func (l *Layer) AllocExact(count uint64, metadata bool) (extent.Extent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.poolFor(metadata)
	if e, ok := p.extents.RemoveFirstFit(count); ok {
		return e, nil
	}

	want := l.slabSizeFor(metadata)
	if want < count {
		want = count
	}
	slab, err := l.global.slab(want)
	if err != nil {
		return extent.Extent{}, err
	}
	for _, e := range slab {
		p.extents.Insert(e)
	}

	e, ok := p.extents.RemoveFirstFit(count)
	if !ok {
		return extent.Extent{}, errors.New(errors.NoSpace, "allocExact: %d blocks unavailable after slab refill", count)
	}
	return e, nil
}

// AllocNear returns a count-length range close to hint when possible, to
// keep a file's physical blocks contiguous with its existing extent.
func (l *Layer) AllocNear(hint uint64, count uint64, metadata bool) (extent.Extent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.poolFor(metadata)
	if e, ok := p.extents.RemoveNear(hint, count); ok {
		return e, nil
	}

	slab, err := l.global.slab(l.slabSizeFor(metadata))
	if err != nil {
		return extent.Extent{}, err
	}
	for _, e := range slab {
		p.extents.Insert(e)
	}

	if e, ok := p.extents.RemoveNear(hint, count); ok {
		return e, nil
	}
	return extent.Extent{}, errors.New(errors.NoSpace, "allocNear: %d blocks unavailable after slab refill", count)
}

// Free returns a range to the layer-local pool. If layerLocal is false the
// range instead goes directly to the global pool (used when a clone
// discovers its parent's blocks are no longer referenced by anyone the
// parent layer still serves).
func (l *Layer) Free(e extent.Extent, metadata bool, layerLocal bool) {
	if !layerLocal {
		l.global.returnToGlobal(e)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.poolFor(metadata).extents.Insert(e)
}

// Teardown releases the layer's remaining local reservation back to the
// global pool, called when the owning layer is unmounted or removed.
func (l *Layer) Teardown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.metadata.extents.Iter() {
		l.global.returnToGlobal(e)
	}
	for _, e := range l.data.extents.Iter() {
		l.global.returnToGlobal(e)
	}
	l.metadata.extents = extent.NewList()
	l.data.extents = extent.NewList()
}

// LocalTotal reports the current size of one of the layer's local pools,
// for tests asserting the free-list conservation invariant (spec §8.2).
func (l *Layer) LocalTotal(metadata bool) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.poolFor(metadata).extents.Total()
}
