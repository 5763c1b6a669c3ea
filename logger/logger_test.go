// Copyright 2023 Google Inc. All Rights Reserved.
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

package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/portworx/lcfs/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textTraceString = `^time=[a-zA-Z0-9/:. TZ+-]{15,35} severity=TRACE msg="traceExample"`
	textDebugString = `^time=[a-zA-Z0-9/:. TZ+-]{15,35} severity=DEBUG msg="debugExample"`
	textInfoString  = `^time=[a-zA-Z0-9/:. TZ+-]{15,35} severity=INFO msg="infoExample"`
	textWarnString  = `^time=[a-zA-Z0-9/:. TZ+-]{15,35} severity=WARNING msg="warningExample"`
	textErrorString = `^time=[a-zA-Z0-9/:. TZ+-]{15,35} severity=ERROR msg="errorExample"`

	jsonTraceString = `"severity":"TRACE","msg":"traceExample"`
	jsonDebugString = `"severity":"DEBUG","msg":"debugExample"`
	jsonInfoString  = `"severity":"INFO","msg":"infoExample"`
	jsonWarnString  = `"severity":"WARNING","msg":"warningExample"`
	jsonErrorString = `"severity":"ERROR","msg":"errorExample"`
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func redirectLogsToBuffer(buf *bytes.Buffer, format string, level config.Severity) {
	var programLevel = new(slog.LevelVar)
	factory := &loggerFactory{format: format}
	defaultLogger = slog.New(factory.createJsonOrTextHandler(buf, programLevel, ""))
	setLoggingLevel(level, programLevel)
}

func fetchOutputsAtLevel(format string, level config.Severity) []string {
	var buf bytes.Buffer
	redirectLogsToBuffer(&buf, format, level)

	fns := []func(){
		func() { Tracef("traceExample") },
		func() { Debugf("debugExample") },
		func() { Infof("infoExample") },
		func() { Warnf("warningExample") },
		func() { Errorf("errorExample") },
	}

	var out []string
	for _, f := range fns {
		f()
		out = append(out, buf.String())
		buf.Reset()
	}
	return out
}

func (t *LoggerTest) assertOutputs(expected, actual []string) {
	for i := range actual {
		if expected[i] == "" {
			assert.Equal(t.T(), "", actual[i])
			continue
		}
		assert.Regexp(t.T(), regexp.MustCompile(expected[i]), actual[i])
	}
}

func (t *LoggerTest) TestTextLevelOff() {
	out := fetchOutputsAtLevel("text", config.OFF)
	t.assertOutputs([]string{"", "", "", "", ""}, out)
}

func (t *LoggerTest) TestTextLevelError() {
	out := fetchOutputsAtLevel("text", config.ERROR)
	t.assertOutputs([]string{"", "", "", "", textErrorString}, out)
}

func (t *LoggerTest) TestTextLevelTrace() {
	out := fetchOutputsAtLevel("text", config.TRACE)
	t.assertOutputs([]string{textTraceString, textDebugString, textInfoString, textWarnString, textErrorString}, out)
}

func (t *LoggerTest) TestJSONLevelInfo() {
	out := fetchOutputsAtLevel("json", config.INFO)
	t.assertOutputs([]string{"", "", jsonInfoString, jsonWarnString, jsonErrorString}, out)
}

func (t *LoggerTest) TestSetLoggingLevel() {
	testData := []struct {
		input    config.Severity
		expected slog.Level
	}{
		{config.TRACE, LevelTrace},
		{config.DEBUG, LevelDebug},
		{config.INFO, LevelInfo},
		{config.WARNING, LevelWarn},
		{config.ERROR, LevelError},
		{config.OFF, LevelOff},
	}

	for _, td := range testData {
		v := new(slog.LevelVar)
		setLoggingLevel(td.input, v)
		assert.Equal(t.T(), td.expected, v.Level())
	}
}
