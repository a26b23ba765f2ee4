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

package logger

import (
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithSeverity(t *testing.T) {
	log, err := New(&Config{Severity: "debug"})
	require.NoError(t, err)
	assert.NotNil(t, log.Debug())

	_, err = New(&Config{Severity: "no-such-level"})
	assert.Error(t, err)

	log, err = New(&Config{Severity: "nolog"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestParseSeverity(t *testing.T) {
	level, err := parseSeverity("warn")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, level)

	level, err = parseSeverity("silent")
	require.NoError(t, err)
	assert.Equal(t, zerolog.Disabled, level)
}

func TestLogFileSink(t *testing.T) {
	path := t.TempDir() + "/daq.log"

	log, err := New(&Config{Severity: "info", LogFile: path})
	require.NoError(t, err)

	log.Info().Str("component", "test").Msg("hello from the file sink")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello from the file sink"))
}

func TestWithComponent(t *testing.T) {
	log := NewTestLogger()
	child := log.WithComponent("agent")
	assert.NotNil(t, child.Info())
}
