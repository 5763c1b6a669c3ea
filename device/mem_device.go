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

package device

import (
	"sync"

	"github.com/portworx/lcfs/errors"
)

// MemDevice is an in-memory BlockDevice, the fake persistence tests mount
// against so that InodeStore/LayerManager tests never touch a real disk
// (mirroring the pack's in-memory fake GCS bucket approach to persistence
// tests).
type MemDevice struct {
	mu        sync.Mutex
	blockSize uint32
	blocks    [][]byte
	failNext  bool
}

// NewMemDevice allocates a zero-filled device of blockCount blocks.
func NewMemDevice(blockSize uint32, blockCount uint64) *MemDevice {
	blocks := make([][]byte, blockCount)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return &MemDevice{blockSize: blockSize, blocks: blocks}
}

func (d *MemDevice) BlockSize() uint32  { return d.blockSize }
func (d *MemDevice) BlockCount() uint64 { return uint64(len(d.blocks)) }

// FailNextOp makes the next read or write return an IoError, for exercising
// the core's "allocator and device errors surface to the request boundary
// unchanged" contract (spec §7).
func (d *MemDevice) FailNextOp() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = true
}

func (d *MemDevice) takeFailure() bool {
	if !d.failNext {
		return false
	}
	d.failNext = false
	return true
}

func (d *MemDevice) ReadBlock(block uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.takeFailure() {
		return nil, errors.New(errors.IoError, "injected read failure at block %d", block)
	}
	if block >= uint64(len(d.blocks)) {
		return nil, errors.New(errors.IoError, "read block %d: out of range", block)
	}
	out := make([]byte, d.blockSize)
	copy(out, d.blocks[block])
	return out, nil
}

func (d *MemDevice) WriteBlock(block uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.takeFailure() {
		return errors.New(errors.IoError, "injected write failure at block %d", block)
	}
	if block >= uint64(len(d.blocks)) {
		return errors.New(errors.IoError, "write block %d: out of range", block)
	}
	if uint32(len(buf)) != d.blockSize {
		return errors.New(errors.Invalid, "write block %d: buffer size %d != block size %d", block, len(buf), d.blockSize)
	}
	cp := make([]byte, d.blockSize)
	copy(cp, buf)
	d.blocks[block] = cp
	return nil
}

func (d *MemDevice) WriteCluster(firstBlock uint64, bufs [][]byte) error {
	cur := firstBlock
	for _, buf := range bufs {
		if err := d.WriteBlock(cur, buf); err != nil {
			return err
		}
		cur++
	}
	return nil
}

func (d *MemDevice) Sync() error  { return nil }
func (d *MemDevice) Close() error { return nil }

var _ BlockDevice = (*MemDevice)(nil)
