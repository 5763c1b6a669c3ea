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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/fuse"
	"github.com/kardianos/osext"

	"github.com/portworx/lcfs/clock"
	"github.com/portworx/lcfs/config"
	"github.com/portworx/lcfs/device"
	"github.com/portworx/lcfs/fs"
	"github.com/portworx/lcfs/layer"
	"github.com/portworx/lcfs/logger"
)

const successfulMountMessage = "File system has been successfully mounted."

// lcfsInBackgroundMode marks the env of a daemonized child so the logger
// (or anything else) can tell it apart from a directly-invoked foreground
// run, the way gcsfuse's GCSFuseInBackgroundMode does.
const lcfsInBackgroundMode = "LCFS_IN_BACKGROUND_MODE"

// parentProcessDirEnv carries the invoking shell's working directory across
// the daemonize re-exec, since the daemon otherwise has no way to resolve a
// relative device or mount-point path the user typed.
const parentProcessDirEnv = "LCFS_PARENT_PROCESS_DIR"

// Run is the RunFunc NewRootCmd dispatches to. In foreground mode it mounts
// directly and blocks until unmount; otherwise (the default) it re-execs
// itself once with --foreground, the way gcsfuse's legacy_main daemonizes,
// and returns as soon as the child reports success or failure over the
// daemonize pipe.
func Run(cfg *config.Config, devicePath, mountPoint string) error {
	if err := logger.InitLogFile(cfg.Logging.Rotate, cfg.Logging); err != nil {
		return fmt.Errorf("init log file: %w", err)
	}
	logger.SetLogFormat(cfg.Logging.Format)

	if !cfg.Foreground {
		return daemonizeSelf(mountPoint)
	}

	mfs, flusher, err := mountLCFS(context.Background(), cfg, devicePath, mountPoint)
	if err != nil {
		if err2 := daemonize.SignalOutcome(err); err2 != nil {
			logger.Errorf("signaling mount failure to parent process: %v", err2)
		}
		return fmt.Errorf("mount: %w", err)
	}
	defer flusher.Stop()

	logger.Infof(successfulMountMessage)
	if err2 := daemonize.SignalOutcome(nil); err2 != nil {
		logger.Errorf("signaling successful mount to parent process: %v", err2)
	}

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}
	return nil
}

// daemonizeSelf re-execs the current binary with --foreground, forwarding
// the environment a child needs to resolve relative paths and find
// fusermount, and returns once daemonize reports the child's own mount
// outcome back over its pipe.
func daemonizeSelf(mountPoint string) error {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("osext.Executable: %w", err)
	}

	args := append([]string{"--foreground"}, os.Args[1:]...)
	args[len(args)-1] = mountPoint

	env := []string{fmt.Sprintf("PATH=%s", os.Getenv("PATH"))}
	if wd, err := os.Getwd(); err == nil {
		env = append(env, fmt.Sprintf("%s=%s", parentProcessDirEnv, wd))
	}
	if home, err := os.UserHomeDir(); err == nil {
		env = append(env, fmt.Sprintf("HOME=%s", home))
	}
	env = append(env, fmt.Sprintf("%s=true", lcfsInBackgroundMode))

	if err := daemonize.Run(path, args, env, os.Stdout); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof(successfulMountMessage)
	return nil
}

// mountLCFS opens the backing device, mounts the layer tree, starts the
// background flusher and starts serving the tree over FUSE at mountPoint.
// The caller is responsible for calling the returned Flusher's Stop once the
// mount is torn down, so the last round of dirty state reaches disk and
// GlobalState.Unmounting is set before the device is closed.
func mountLCFS(ctx context.Context, cfg *config.Config, devicePath, mountPoint string) (*fuse.MountedFileSystem, *layer.Flusher, error) {
	dev, err := device.OpenFileDevice(devicePath, cfg.BlockSize)
	if err != nil {
		return nil, nil, fmt.Errorf("open device %s: %w", devicePath, err)
	}

	sizing := layer.Config{
		ClusterCap:       cfg.ClusterSize,
		ICacheBuckets:    cfg.ICacheSize,
		MetadataSlabSize: cfg.MetadataSlabSize,
		DataSlabSize:     cfg.DataSlabSize,
		DirHashThreshold: cfg.DirHashThreshold,
	}
	manager, err := layer.Mount(dev, cfg.SnapshotTablePath, sizing, layer.Metrics{})
	if err != nil {
		return nil, nil, fmt.Errorf("mount layer tree: %w", err)
	}

	flusher := layer.NewFlusher(manager, cfg.FlusherInterval)
	flusher.Start()

	server := fs.NewServer(manager, clock.RealClock{})

	mfs, err := fuse.Mount(mountPoint, server, getFuseMountConfig(cfg))
	if err != nil {
		flusher.Stop()
		return nil, nil, fmt.Errorf("fuse.Mount: %w", err)
	}
	return mfs, flusher, nil
}

// getFuseMountConfig builds the jacobsa/fuse mount options, wiring its
// loggers through to ours the way gcsfuse's getFuseMountConfig does.
func getFuseMountConfig(cfg *config.Config) *fuse.MountConfig {
	mountCfg := &fuse.MountConfig{
		FSName:               "lcfs",
		Subtype:              "lcfs",
		VolumeName:           "lcfs",
		Options:              parseFuseOptions(cfg.FuseOptions),
		EnableParallelDirOps: true,
		EnableReaddirplus:    true,
	}

	if cfg.Logging.Severity != config.OFF {
		mountCfg.ErrorLogger = logger.NewLegacyLogger(logger.LevelError, "fuse_errors: ")
	}
	if cfg.Logging.Severity == config.TRACE || cfg.Logging.Severity == config.DEBUG {
		mountCfg.DebugLogger = logger.NewLegacyLogger(logger.LevelTrace, "fuse_debug: ")
	}

	return mountCfg
}

// parseFuseOptions turns a list of "-o"-style entries into the key/value map
// fuse.MountConfig.Options wants, accepting either a comma-joined entry
// ("rw,nodev") or one option per entry; "key=value" options carry a value,
// bare options ("rw") map to the empty string.
func parseFuseOptions(raw []string) map[string]string {
	opts := make(map[string]string)
	for _, entry := range raw {
		for _, opt := range strings.Split(entry, ",") {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				continue
			}
			if key, value, found := strings.Cut(opt, "="); found {
				opts[key] = value
			} else {
				opts[opt] = ""
			}
		}
	}
	return opts
}
