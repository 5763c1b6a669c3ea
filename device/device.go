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

// Package device exposes the backing store LCFS is built on: a fixed-size
// array of blocks addressed by block number, with no caching of its own.
package device

import (
	"github.com/portworx/lcfs/errors"
)

// BlockDevice is the bottom of the LCFS stack (spec §4.1). Implementations
// fail with an IoError-kinded error on any short read/write or device-level
// failure; they perform no caching or retries.
type BlockDevice interface {
	// ReadBlock reads exactly BlockSize() bytes starting at block.
	ReadBlock(block uint64) ([]byte, error)

	// WriteBlock writes buf, which must be exactly BlockSize() bytes, at
	// block.
	WriteBlock(block uint64, buf []byte) error

	// WriteCluster writes a run of contiguous blocks starting at
	// firstBlock in one call, each entry of bufs being BlockSize() bytes.
	// This is how PageCache emits a flushed cluster.
	WriteCluster(firstBlock uint64, bufs [][]byte) error

	// BlockSize returns the device's fixed block size in bytes.
	BlockSize() uint32

	// BlockCount returns the total number of addressable blocks.
	BlockCount() uint64

	// Sync forces any buffered writes to stable storage.
	Sync() error

	// Close releases the underlying descriptor.
	Close() error
}

func shortIOError(op string, block uint64, want, got int) error {
	return errors.New(errors.IoError, "%s block %d: short io, wanted %d bytes got %d", op, block, want, got)
}
