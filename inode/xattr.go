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

// XattrStore is the per-inode extended-attribute list (spec §4.8).
type XattrStore struct {
	values map[string][]byte
}

// NewXattrStore returns an empty attribute list.
func NewXattrStore() *XattrStore {
	return &XattrStore{values: make(map[string][]byte)}
}

// Get returns the value for name, if set.
func (x *XattrStore) Get(name string) ([]byte, bool) {
	v, ok := x.values[name]
	return v, ok
}

// Set stores value under name, overwriting any previous value.
func (x *XattrStore) Set(name string, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	x.values[name] = cp
}

// Remove deletes name. Returns false if it was not set.
func (x *XattrStore) Remove(name string) bool {
	if _, ok := x.values[name]; !ok {
		return false
	}
	delete(x.values, name)
	return true
}

// List returns the names currently set, in no particular order.
func (x *XattrStore) List() []string {
	out := make([]string, 0, len(x.values))
	for k := range x.values {
		out = append(out, k)
	}
	return out
}

// clone returns a deep copy for copy-up materialize-on-write.
func (x *XattrStore) clone() *XattrStore {
	c := &XattrStore{values: make(map[string][]byte, len(x.values))}
	for k, v := range x.values {
		cp := make([]byte, len(v))
		copy(cp, v)
		c.values[k] = cp
	}
	return c
}
