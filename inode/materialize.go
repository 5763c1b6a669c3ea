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

// MaterializeDir clones a shared directory body into a private one,
// idempotently (spec §9's "shared-then-private body" pattern). Callers
// must hold ino.Mu for writing before calling this, and every directory
// mutation (Add/Remove/Rename) must call it first.
func (ino *Inode) MaterializeDir() {
	if !ino.Flags.Shared || ino.Dir == nil {
		return
	}
	ino.Dir = ino.Dir.clone()
	ino.Flags.Shared = false
	ino.Flags.Private = true
	ino.Flags.DirDirty = true
}

// MaterializeBmap clones a shared file body before the first write to it.
func (ino *Inode) MaterializeBmap() {
	if !ino.Flags.Shared || ino.Bmap == nil {
		return
	}
	ino.Bmap = ino.Bmap.clone()
	ino.Flags.Shared = false
	ino.Flags.Private = true
	ino.Flags.BmapDirty = true
}

// MaterializeXattrs clones a shared attribute list before Set/Remove.
func (ino *Inode) MaterializeXattrs() {
	if !ino.Flags.XattrsShared {
		return
	}
	ino.Xattrs = ino.Xattrs.clone()
	ino.Flags.XattrsShared = false
	ino.Flags.XattrDirty = true
}
