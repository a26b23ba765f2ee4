/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type zerologLogger struct {
	logger zerolog.Logger
}

// New builds a Logger from the given configuration. A non-empty LogFile
// tees events into the file in addition to the configured output.
func New(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	}

	if config.Color {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		output = zerolog.MultiLevelWriter(output, f)
	}

	level := zerolog.InfoLevel

	if config.Severity != "" {
		var err error

		level, err = parseSeverity(config.Severity)
		if err != nil {
			return nil, err
		}
	}

	if config.TimeFormat != "" {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &zerologLogger{logger: zlog}, nil
}

// parseSeverity accepts both zerolog level names and the historical DAQ
// severity names (nolog, fatal, error, warn, info, debug, trace).
func parseSeverity(severity string) (zerolog.Level, error) {
	switch severity {
	case "nolog", "silent":
		return zerolog.Disabled, nil
	default:
		return zerolog.ParseLevel(severity)
	}
}

func (l *zerologLogger) Trace() *zerolog.Event { return l.logger.Trace() }

func (l *zerologLogger) Debug() *zerolog.Event { return l.logger.Debug() }

func (l *zerologLogger) Info() *zerolog.Event { return l.logger.Info() }

func (l *zerologLogger) Warn() *zerolog.Event { return l.logger.Warn() }

func (l *zerologLogger) Error() *zerolog.Event { return l.logger.Error() }

func (l *zerologLogger) Fatal() *zerolog.Event { return l.logger.Fatal() }

func (l *zerologLogger) Panic() *zerolog.Event { return l.logger.Panic() }

func (l *zerologLogger) With() zerolog.Context { return l.logger.With() }

func (l *zerologLogger) WithComponent(component string) Logger {
	return &zerologLogger{logger: l.logger.With().Str("component", component).Logger()}
}

// NewTestLogger returns a logger suitable for unit tests: human-readable,
// debug level, written to stderr.
func NewTestLogger() Logger {
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.DebugLevel).
		With().
		Timestamp().
		Logger()

	return &zerologLogger{logger: zlog}
}
