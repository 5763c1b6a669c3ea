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
	"os"

	"github.com/portworx/lcfs/errors"
	"golang.org/x/sys/unix"
)

// FileDevice is a BlockDevice backed by a regular file or a raw block
// special file, read and written with pread(2)/pwrite(2) so that concurrent
// request-dispatch goroutines never contend on a shared file offset.
type FileDevice struct {
	f          *os.File
	fd         int
	blockSize  uint32
	blockCount uint64
}

// OpenFileDevice opens path as a BlockDevice of the given blockSize. If the
// path names a regular file, its size must already be blockSize-aligned;
// the caller is expected to have created/truncated the image beforehand
// (e.g. with mkfs-style tooling, out of this package's scope).
func OpenFileDevice(path string, blockSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(errors.IoError, err, "open device %s", path)
	}

	size, err := deviceSize(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(errors.IoError, err, "stat device %s", path)
	}

	return &FileDevice{
		f:          f,
		fd:         int(f.Fd()),
		blockSize:  blockSize,
		blockCount: size / uint64(blockSize),
	}, nil
}

// deviceSize returns the size in bytes of a regular file or a block
// device, using BLKGETSIZE64 for the latter.
func deviceSize(f *os.File) (uint64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return uint64(fi.Size()), nil
	}
	return unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
}

func (d *FileDevice) BlockSize() uint32  { return d.blockSize }
func (d *FileDevice) BlockCount() uint64 { return d.blockCount }

func (d *FileDevice) ReadBlock(block uint64) ([]byte, error) {
	buf := make([]byte, d.blockSize)
	n, err := unix.Pread(d.fd, buf, int64(block)*int64(d.blockSize))
	if err != nil {
		return nil, errors.Wrap(errors.IoError, err, "read block %d", block)
	}
	if n != len(buf) {
		return nil, shortIOError("read", block, len(buf), n)
	}
	return buf, nil
}

func (d *FileDevice) WriteBlock(block uint64, buf []byte) error {
	if uint32(len(buf)) != d.blockSize {
		return errors.New(errors.Invalid, "write block %d: buffer size %d != block size %d", block, len(buf), d.blockSize)
	}
	n, err := unix.Pwrite(d.fd, buf, int64(block)*int64(d.blockSize))
	if err != nil {
		return errors.Wrap(errors.IoError, err, "write block %d", block)
	}
	if n != len(buf) {
		return shortIOError("write", block, len(buf), n)
	}
	return nil
}

func (d *FileDevice) WriteCluster(firstBlock uint64, bufs [][]byte) error {
	cur := firstBlock
	for _, buf := range bufs {
		if err := d.WriteBlock(cur, buf); err != nil {
			return err
		}
		cur++
	}
	return nil
}

func (d *FileDevice) Sync() error {
	if err := unix.Fdatasync(d.fd); err != nil {
		return errors.Wrap(errors.IoError, err, "fdatasync")
	}
	return nil
}

func (d *FileDevice) Close() error {
	return d.f.Close()
}
