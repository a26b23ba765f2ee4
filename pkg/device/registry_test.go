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

package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/nestdaq/pkg/logger"
)

func TestRegistryStockDevices(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "sampler")
	assert.Contains(t, names, "sink")
	assert.Contains(t, names, "null")

	_, err := New("no-such-device", Config{Logger: logger.NewTestLogger()})
	assert.Error(t, err)

	dev, err := New("null", Config{Logger: logger.NewTestLogger()})
	require.NoError(t, err)
	assert.NoError(t, dev.Init(context.Background()))
}

func TestSamplerStopsAtMaxIterations(t *testing.T) {
	ctx := context.Background()

	dev, err := New("sampler", Config{
		Logger: logger.NewTestLogger(),
		Options: map[string]string{
			"sampling-interval-ms": "1",
			"max-iterations":       "2",
		},
	})
	require.NoError(t, err)

	sampler, ok := dev.(*Sampler)
	require.True(t, ok)

	require.NoError(t, sampler.Init(ctx))
	require.NoError(t, sampler.Run(ctx))

	for i := 0; i < 2; i++ {
		again, err := sampler.ConditionalRun(ctx)
		require.NoError(t, err)
		assert.True(t, again)
	}

	again, err := sampler.ConditionalRun(ctx)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, sampler.Stop(ctx))
}

func TestSamplerChannelConfiguration(t *testing.T) {
	dev, err := New("sampler", Config{Logger: logger.NewTestLogger()})
	require.NoError(t, err)

	configurer, ok := dev.(ChannelConfigurer)
	require.True(t, ok)

	require.NoError(t, configurer.ConfigureChannels([]string{"name=out,type=push,method=bind"}))
}
