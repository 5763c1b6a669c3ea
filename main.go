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

// Command lcfs-mount serves an LCFS image over FUSE.
package main

import (
	"fmt"
	"os"

	"github.com/portworx/lcfs/cmd"
)

func main() {
	root, err := cmd.NewRootCmd(cmd.Run)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lcfs-mount: %v\n", err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lcfs-mount: %v\n", err)
		os.Exit(1)
	}
}
