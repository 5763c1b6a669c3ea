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

package cmd

import (
	"github.com/portworx/lcfs/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlags registers every config.Config field as a pflag on fs, binding
// each one into viper under the same key mapstructure uses to unmarshal
// Config, so a YAML file, an env var and a flag can all set the same field
// and viper's precedence rules apply uniformly.
func bindFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	fs.StringVar(&cfg.Device, "device", cfg.Device,
		"Path to the backing block device or regular file holding the LCFS image")
	fs.Uint32Var(&cfg.BlockSize, "block-size", cfg.BlockSize,
		"Device block size in bytes; must be a power of two")
	fs.Uint64Var(&cfg.MetadataSlabSize, "metadata-slab-size", cfg.MetadataSlabSize,
		"Metadata allocator slab size, in blocks")
	fs.Uint64Var(&cfg.DataSlabSize, "data-slab-size", cfg.DataSlabSize,
		"Data allocator slab size, in blocks")
	fs.Uint32Var(&cfg.ICacheSize, "icache-size", cfg.ICacheSize,
		"Per-layer inode hash table bucket count")
	fs.Uint32Var(&cfg.ClusterSize, "cluster-size", cfg.ClusterSize,
		"Max contiguous dirty-block run the page cache flushes as one write")
	fs.Uint32Var(&cfg.DirHashThreshold, "dir-hash-threshold", cfg.DirHashThreshold,
		"Removed-entry slots a directory accumulates before its entry list is compacted; 0 disables")
	fs.BoolVar(&cfg.Foreground, "foreground", cfg.Foreground,
		"Stay attached to the terminal instead of daemonizing after mount")
	fs.StringVar(&cfg.SnapshotTablePath, "snapshot-table", cfg.SnapshotTablePath,
		"Optional path to mirror the layer table as JSON on every commit")
	fs.DurationVar(&cfg.FlusherInterval, "flusher-interval", cfg.FlusherInterval,
		"How often the background flusher syncs dirty layers to disk; 0 disables the periodic tick")
	fs.StringSliceVarP(&cfg.FuseOptions, "o", "o", cfg.FuseOptions,
		"Mount option(s) to pass through, e.g. -o rw,nodev; may be repeated")
	fs.StringVar((*string)(&cfg.Logging.Severity), "log-severity", string(cfg.Logging.Severity),
		"Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF")
	fs.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format,
		"Log output format: text or json")
	fs.StringVar(&cfg.Logging.FilePath, "log-file", cfg.Logging.FilePath,
		"Path to a log file; empty logs to stdout")

	binds := map[string]string{
		"device":             "device",
		"block-size":         "block-size",
		"metadata-slab-size": "metadata-slab-size",
		"data-slab-size":     "data-slab-size",
		"icache-size":        "icache-size",
		"cluster-size":       "cluster-size",
		"dir-hash-threshold": "dir-hash-threshold",
		"foreground":         "foreground",
		"snapshot-table":     "snapshot-table",
		"flusher-interval":   "flusher-interval",
		"o":                  "fuse-options",
		"log-severity":       "logging.severity",
		"log-format":         "logging.format",
		"log-file":           "logging.file",
	}
	for flagName, viperKey := range binds {
		if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
			return err
		}
	}
	return nil
}
