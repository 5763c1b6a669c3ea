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

// Package cmd wires config, flags and the daemonize/fuse.Mount flow together
// into the lcfs-mount binary's cobra command tree.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/portworx/lcfs/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunFunc performs the actual mount once flags, a YAML config file and
// positional arguments have all been resolved into cfg/devicePath/mountPoint.
// It's a parameter of NewRootCmd rather than a call straight into Run so
// tests can substitute a fake without mounting anything real.
type RunFunc func(cfg *config.Config, devicePath, mountPoint string) error

var cfgFile string

// NewRootCmd builds the root "lcfs-mount [device] mount_point" command. It
// accepts either two positional arguments (device, mount point) or one
// (mount point alone, with --device or the config file supplying the
// device), mirroring gcsfuse's "bucket is optional if configured" flag
// pattern for a single-device filesystem.
func NewRootCmd(run RunFunc) (*cobra.Command, error) {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:           "lcfs-mount [device] mount_point",
		Short:         "Mount an LCFS layered copy-on-write filesystem image over FUSE",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("unmarshal config: %w", err)
			}

			devicePath, mountPoint, err := populateArgs(args, &cfg)
			if err != nil {
				return err
			}

			return run(&cfg, devicePath, mountPoint)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	if err := bindFlags(cmd.Flags(), &cfg); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	cobra.OnInitialize(func() { initConfig(cfgFile) })

	return cmd, nil
}

// initConfig points viper at cfgFile, if one was given. Unset, mount runs
// entirely off flags and Config's defaults.
func initConfig(cfgFile string) {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "lcfs-mount: reading config file %s: %v\n", cfgFile, err)
	}
}

// populateArgs splits the positional args into (devicePath, mountPoint),
// falling back to cfg.Device when only a mount point was given, and resolves
// the mount point the way gcsfuse's flag parsing does: ~/-prefixed paths
// against the user's home directory, relative paths against the working
// directory the command was invoked from.
func populateArgs(args []string, cfg *config.Config) (devicePath, mountPoint string, err error) {
	switch len(args) {
	case 1:
		devicePath = cfg.Device
		mountPoint = args[0]
	case 2:
		devicePath = args[0]
		mountPoint = args[1]
	default:
		return "", "", fmt.Errorf("%s takes one or two arguments: [device] mount_point", filepath.Base(os.Args[0]))
	}

	if devicePath == "" {
		return "", "", fmt.Errorf("no device given: pass it as an argument, --device, or in --config-file")
	}

	mountPoint, err = resolveMountPoint(mountPoint)
	if err != nil {
		return "", "", fmt.Errorf("resolving mount point %q: %w", mountPoint, err)
	}
	return devicePath, mountPoint, nil
}

func resolveMountPoint(p string) (string, error) {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("look up home directory: %w", err)
		}
		return filepath.Join(home, p[2:]), nil
	}
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(wd, p), nil
}
