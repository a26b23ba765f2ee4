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

package config

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Name  string `json:"name"`
	Count int    `json:"count"`

	defaulted bool
}

func (s *sampleConfig) SetDefaults() {
	s.defaulted = true

	if s.Count == 0 {
		s.Count = 7
	}
}

func (s *sampleConfig) Validate() error {
	if s.Name == "" {
		return errors.New("name must not be empty")
	}

	return nil
}

func TestLoadAndValidate(t *testing.T) {
	path := t.TempDir() + "/cfg.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"sampler","count":3}`), 0o644))

	var cfg sampleConfig
	require.NoError(t, LoadAndValidate(context.Background(), path, &cfg))
	assert.Equal(t, "sampler", cfg.Name)
	assert.Equal(t, 3, cfg.Count)
	assert.True(t, cfg.defaulted)
}

func TestLoadAndValidateWithoutFile(t *testing.T) {
	cfg := sampleConfig{Name: "from-flags"}
	require.NoError(t, LoadAndValidate(context.Background(), "", &cfg))
	assert.Equal(t, 7, cfg.Count)
}

func TestLoadAndValidateErrors(t *testing.T) {
	var cfg sampleConfig

	err := LoadAndValidate(context.Background(), "/no/such/file.json", &cfg)
	assert.Error(t, err)

	err = LoadAndValidate(context.Background(), "", &sampleConfig{})
	assert.Error(t, err)

	err = LoadAndValidate(context.Background(), "", nil)
	assert.Error(t, err)

	path := t.TempDir() + "/bad.json"
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	err = LoadAndValidate(context.Background(), path, &cfg)
	assert.Error(t, err)
}
