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
	"os"
	"path/filepath"
	"testing"

	"github.com/portworx/lcfs/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRootCmd(t *testing.T, run RunFunc) *cobra.Command {
	t.Helper()
	cmd, err := NewRootCmd(run)
	require.NoError(t, err)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func TestCobraArgsNumInRange(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"device", "mountpoint", "extra"},
	} {
		cmd := newTestRootCmd(t, func(*config.Config, string, string) error { return nil })
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "args %v should be rejected", args)
	}
}

func TestArgsParsing(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	testCases := []struct {
		name               string
		args               []string
		defaultDevice      string
		wantDevice         string
		wantMountPointFunc func() string
	}{
		{
			name:               "device and mount point both given",
			args:               []string{"/dev/lcfs0", "mnt"},
			wantDevice:         "/dev/lcfs0",
			wantMountPointFunc: func() string { return filepath.Join(wd, "mnt") },
		},
		{
			name:               "mount point only, device from config default",
			args:               []string{"mnt"},
			defaultDevice:      "/dev/lcfs1",
			wantDevice:         "/dev/lcfs1",
			wantMountPointFunc: func() string { return filepath.Join(wd, "mnt") },
		},
		{
			name:               "absolute mount point is passed through",
			args:               []string{"/dev/lcfs0", "/mnt/lcfs"},
			wantDevice:         "/dev/lcfs0",
			wantMountPointFunc: func() string { return "/mnt/lcfs" },
		},
		{
			name:               "tilde-relative mount point resolves against home",
			args:               []string{"/dev/lcfs0", "~/pqr"},
			wantDevice:         "/dev/lcfs0",
			wantMountPointFunc: func() string { return filepath.Join(home, "pqr") },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Device = tc.defaultDevice

			gotDevice, gotMountPoint, err := populateArgs(tc.args, &cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDevice, gotDevice)
			assert.Equal(t, tc.wantMountPointFunc(), gotMountPoint)
		})
	}
}

func TestArgsParsingNoDeviceIsError(t *testing.T) {
	cfg := config.Default()
	_, _, err := populateArgs([]string{"mnt"}, &cfg)
	assert.Error(t, err)
}
