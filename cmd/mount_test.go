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
	"testing"

	"github.com/portworx/lcfs/config"
	"github.com/stretchr/testify/assert"
)

func TestGetFuseMountConfigMountOptionsFormattedCorrectly(t *testing.T) {
	testCases := []struct {
		name                string
		inputFuseOptions    []string
		expectedFuseOptions map[string]string
	}{
		{
			name:             "comma-joined entries (legacy flag format)",
			inputFuseOptions: []string{"rw,nodev", "user=jacobsa,noauto"},
			expectedFuseOptions: map[string]string{
				"noauto": "",
				"nodev":  "",
				"rw":     "",
				"user":   "jacobsa",
			},
		},
		{
			name:             "one option per entry (YAML list format)",
			inputFuseOptions: []string{"rw", "nodev", "user=jacobsa", "noauto"},
			expectedFuseOptions: map[string]string{
				"noauto": "",
				"nodev":  "",
				"rw":     "",
				"user":   "jacobsa",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.FuseOptions = tc.inputFuseOptions

			mountCfg := getFuseMountConfig(&cfg)

			assert.Equal(t, "lcfs", mountCfg.FSName)
			assert.Equal(t, "lcfs", mountCfg.Subtype)
			assert.Equal(t, "lcfs", mountCfg.VolumeName)
			assert.Equal(t, tc.expectedFuseOptions, mountCfg.Options)
			assert.True(t, mountCfg.EnableParallelDirOps)
		})
	}
}

func TestGetFuseMountConfigLoggerWiring(t *testing.T) {
	cfg := config.Default()

	cfg.Logging.Severity = config.OFF
	assert.Nil(t, getFuseMountConfig(&cfg).ErrorLogger)

	cfg.Logging.Severity = config.INFO
	mountCfg := getFuseMountConfig(&cfg)
	assert.NotNil(t, mountCfg.ErrorLogger)
	assert.Nil(t, mountCfg.DebugLogger)

	cfg.Logging.Severity = config.TRACE
	mountCfg = getFuseMountConfig(&cfg)
	assert.NotNil(t, mountCfg.ErrorLogger)
	assert.NotNil(t, mountCfg.DebugLogger)
}

func TestParseFuseOptionsIgnoresBlankEntries(t *testing.T) {
	got := parseFuseOptions([]string{"", "rw,,nodev", "  "})
	assert.Equal(t, map[string]string{"rw": "", "nodev": ""}, got)
}
