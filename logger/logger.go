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

// Package logger is the package-level structured logger used across LCFS:
// InodeStore lock-order traces, PageCache flush lifecycle, and corruption
// found at read time (a tombstone in an active slot, a checksum mismatch)
// all go through here rather than fmt.Println.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/portworx/lcfs/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// slog's built-in levels only span Debug..Error; LCFS wants a TRACE level
// below Debug for per-block I/O traces that are too noisy even for -v.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(16)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelWarn:  "WARNING",
	LevelOff:   "OFF",
}

type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          string
	level           config.Severity
	logRotateConfig config.LogRotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	level:           config.INFO,
	format:          "text",
	logRotateConfig: config.DefaultLogRotateConfig(),
}

var defaultLogger = slog.New(
	defaultLoggerFactory.createJsonOrTextHandler(os.Stdout, severityToLevelVar(config.INFO), ""),
)

func severityToLevelVar(s config.Severity) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(s, v)
	return v
}

func setLoggingLevel(level config.Severity, programLevel *slog.LevelVar) {
	switch level {
	case config.TRACE:
		programLevel.Set(LevelTrace)
	case config.DEBUG:
		programLevel.Set(LevelDebug)
	case config.INFO:
		programLevel.Set(LevelInfo)
	case config.WARNING:
		programLevel.Set(LevelWarn)
	case config.ERROR:
		programLevel.Set(LevelError)
	case config.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

func replaceLevelAttr(prefix string) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.LevelKey {
			level := a.Value.Any().(slog.Level)
			if name, ok := levelNames[level]; ok {
				a.Value = slog.StringValue(name)
			}
			a.Key = "severity"
		}
		if a.Key == slog.MessageKey && prefix != "" {
			a.Value = slog.StringValue(prefix + a.Value.String())
		}
		return a
	}
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, msgPrefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelAttr(msgPrefix),
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// InitLogFile points the default logger at a rotated file using the given
// legacy and new-style configs, mirroring gcsfuse's two-config transition
// period; LCFS only has one Config, so both arguments here are views of it.
func InitLogFile(legacy config.LogRotateConfig, cfg config.LoggingConfig) error {
	defaultLoggerFactory.logRotateConfig = legacy
	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.level = cfg.Severity

	if cfg.FilePath == "" {
		return nil
	}

	f, err := os.OpenFile(string(cfg.FilePath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defaultLoggerFactory.file = f

	rotator := &lumberjack.Logger{
		Filename:   string(cfg.FilePath),
		MaxSize:    legacy.MaxFileSizeMB,
		MaxBackups: legacy.BackupFileCount,
		Compress:   legacy.Compress,
	}

	programLevel := new(slog.LevelVar)
	setLoggingLevel(cfg.Severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(rotator, programLevel, ""))
	return nil
}

// SetLogFormat switches the default logger between "text" and "json"
// output; "" falls back to json, matching gcsfuse's SetLogFormat.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	programLevel := new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)

	var w io.Writer = os.Stdout
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

func Tracef(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...interface{}) {
	defaultLogger.Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...interface{}) {
	defaultLogger.Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...interface{}) {
	defaultLogger.Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) {
	defaultLogger.Error(fmt.Sprintf(format, v...))
}

// NewLegacyLogger adapts the default structured logger to a stdlib
// *log.Logger at the given level and message prefix, for third-party APIs
// (jacobsa/fuse's MountConfig.ErrorLogger/DebugLogger) that predate slog.
func NewLegacyLogger(level slog.Level, prefix string) *log.Logger {
	w := io.Writer(os.Stdout)
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	handler := defaultLoggerFactory.createJsonOrTextHandler(w, severityToLevelVar(defaultLoggerFactory.level), prefix)
	return slog.NewLogLogger(handler, level)
}
