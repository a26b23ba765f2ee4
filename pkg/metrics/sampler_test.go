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

package metrics

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
)

func TestSample(t *testing.T) {
	sampler, err := NewSampler(logger.NewTestLogger())
	require.NoError(t, err)

	fields := sampler.Sample(context.Background())

	// RSS of the running test process is always observable on linux.
	rss, ok := fields[models.HealthRSSBytes]
	require.True(t, ok)

	n, err := strconv.ParseUint(rss, 10, 64)
	require.NoError(t, err)
	assert.Greater(t, n, uint64(0))
}
