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

// Package config holds the LCFS mount configuration: device and sizing
// parameters bound from flags/YAML by cmd/, plus the logging knobs consumed
// by the logger package.
package config

import "time"

// Severity is a log level name, kept as a string (rather than an enum) so
// it round-trips through YAML and pflag unchanged.
type Severity string

const (
	TRACE   Severity = "TRACE"
	DEBUG   Severity = "DEBUG"
	INFO    Severity = "INFO"
	WARNING Severity = "WARNING"
	ERROR   Severity = "ERROR"
	OFF     Severity = "OFF"
)

// LogRotateConfig controls lumberjack-backed rotation of the log file.
type LogRotateConfig struct {
	MaxFileSizeMB   int  `yaml:"max-file-size-mb" mapstructure:"max-file-size-mb"`
	BackupFileCount int  `yaml:"backup-file-count" mapstructure:"backup-file-count"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// DefaultLogRotateConfig matches the rotation gcsfuse's logger ships with:
// 512MB per file, 10 backups, gzip the rotated-out ones.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{
		MaxFileSizeMB:   512,
		BackupFileCount: 10,
		Compress:        true,
	}
}

// LoggingConfig is the logging slice of Config.
type LoggingConfig struct {
	FilePath string          `yaml:"file" mapstructure:"file"`
	Format   string          `yaml:"format" mapstructure:"format"`
	Severity Severity        `yaml:"severity" mapstructure:"severity"`
	Rotate   LogRotateConfig `yaml:"log-rotate" mapstructure:"log-rotate"`
}

// Config is the full LCFS mount configuration, bound by cmd/ via viper and
// decoded from an optional YAML file plus pflag overrides.
type Config struct {
	// Device is the path to the backing block device or regular file that
	// holds the LCFS image (spec §4.1's BlockDevice).
	Device string `yaml:"device" mapstructure:"device"`

	// MountPoint is the directory RequestDispatch is served at.
	MountPoint string `yaml:"mount-point" mapstructure:"mount-point"`

	// BlockSize is the BlockDevice's block size in bytes. Must divide the
	// device size evenly; spec §4.1 requires it be a power of two.
	BlockSize uint32 `yaml:"block-size" mapstructure:"block-size"`

	// MetadataSlabSize and DataSlabSize are LC_SLAB_SIZE for the two
	// allocator pools (spec §4.3), in blocks.
	MetadataSlabSize uint64 `yaml:"metadata-slab-size" mapstructure:"metadata-slab-size"`
	DataSlabSize     uint64 `yaml:"data-slab-size" mapstructure:"data-slab-size"`

	// ICacheSize is LC_ICACHE_SIZE, the per-layer inode hash table's
	// bucket count (spec §4.5).
	ICacheSize uint32 `yaml:"icache-size" mapstructure:"icache-size"`

	// ClusterSize is LC_CLUSTER_SIZE, the PageCache's max run length of
	// contiguous dirty blocks flushed as one write (spec §4.4).
	ClusterSize uint32 `yaml:"cluster-size" mapstructure:"cluster-size"`

	// DirHashThreshold is the tombstoned-slot count a directory accumulates
	// from Remove/Rename churn before DirStore compacts its entry list
	// (spec §4.6's linear-vs-hash-bucket split, expressed here as bounding
	// the in-memory scan cost rather than an on-disk format change).
	DirHashThreshold uint32 `yaml:"dir-hash-threshold" mapstructure:"dir-hash-threshold"`

	// Logging holds the logger package's knobs.
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// Foreground keeps the mount process attached to the terminal instead of
	// daemonizing (cmd/'s re-exec-via-daemonize flow).
	Foreground bool `yaml:"foreground" mapstructure:"foreground"`

	// SnapshotTablePath, if set, mirrors the layer table as JSON on every
	// commit (LayerManager.snapshotTablePath).
	SnapshotTablePath string `yaml:"snapshot-table" mapstructure:"snapshot-table"`

	// FuseOptions are raw "-o"-style mount options forwarded to
	// fuse.MountConfig.Options, e.g. "rw,nodev" or "user=jacobsa,noauto".
	// Accepted either comma-joined per entry (the legacy flag format) or one
	// option per entry (the YAML list format).
	FuseOptions []string `yaml:"fuse-options" mapstructure:"fuse-options"`

	// FlusherInterval is how often the background flusher wakes up to sync
	// every layer's dirty pages and inodes to the device (spec §5/§9);
	// Flusher.Wake can also trigger a sync early. Zero disables the periodic wake entirely; the flusher still runs and still
	// drains once on Stop.
	FlusherInterval time.Duration `yaml:"flusher-interval" mapstructure:"flusher-interval"`
}

// Default returns the configuration used when no flags or YAML file
// override a field; mirrors the constants spec.md's GLOSSARY lists for
// LC_SLAB_SIZE, LC_ICACHE_SIZE and LC_CLUSTER_SIZE.
func Default() Config {
	return Config{
		BlockSize:        4096,
		MetadataSlabSize: 256,
		DataSlabSize:     256,
		ICacheSize:       1024,
		ClusterSize:      128,
		DirHashThreshold: 32,
		FlusherInterval:  30 * time.Second,
		Logging: LoggingConfig{
			Format:   "text",
			Severity: INFO,
			Rotate:   DefaultLogRotateConfig(),
		},
	}
}
