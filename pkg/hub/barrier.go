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

package hub

import (
	"context"
	"time"

	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

const barrierPollInterval = 100 * time.Millisecond

const timeLayout = time.RFC3339

// nowFunc is swapped in tests.
var nowFunc = time.Now

// Barrier target sets: a command's wait completes once every targeted
// instance sits uniformly in one of these states.
var (
	waitDeviceReadyTargets = []models.State{
		models.StateDeviceReady,
		models.StateReady,
		models.StateRunning,
	}

	waitReadyTargets = []models.State{
		models.StateReady,
		models.StateRunning,
	}
)

// Wait blocks until every instance addressed by (services, instances)
// reports the same state out of the target list. "all" among services
// widens the scan to every instance; "all" among instances widens it to
// every instance of each named service.
func (h *Hub) Wait(ctx context.Context, services, instances []string, targets []models.State) {
	var patterns []string

	switch {
	case contains(services, models.TargetAll):
		patterns = []string{h.keys.StatePattern("*", "*")}
	case contains(instances, models.TargetAll):
		for _, service := range services {
			patterns = append(patterns, h.keys.StatePattern(service, "*"))
		}
	default:
		for _, inst := range instances {
			// Instance targets arrive as "<service>:<instanceId>",
			// which is already a state-key infix.
			patterns = append(patterns, h.keys.Prefix+h.keys.Separator+inst+h.keys.Separator+h.keys.StateLeaf())
		}
	}

	h.waitPatterns(ctx, patterns, targets)
}

func (h *Hub) waitPatterns(ctx context.Context, patterns []string, targets []models.State) {
	for {
		if ctx.Err() != nil {
			return
		}

		keys := make([]string, 0, 8)

		for _, pattern := range patterns {
			matched, err := redisutil.ScanKeys(ctx, h.client, pattern)
			if err != nil {
				h.log.Warn().Err(err).Msg("Barrier scan failed")
				return
			}

			keys = append(keys, matched...)
		}

		if len(keys) == 0 {
			return
		}

		values, present, err := redisutil.MGetStrings(ctx, h.client, keys)
		if err != nil {
			h.log.Warn().Err(err).Msg("Barrier read failed")
			return
		}

		states := make([]string, 0, len(values))

		for i, v := range values {
			if present[i] {
				states = append(states, v)
			}
		}

		if uniformIn(states, targets) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(barrierPollInterval):
		}
	}
}

// uniformIn reports whether every state equals the same single target.
func uniformIn(states []string, targets []models.State) bool {
	if len(states) == 0 {
		return false
	}

	for _, w := range targets {
		all := true

		for _, s := range states {
			if s != string(w) {
				all = false
				break
			}
		}

		if all {
			return true
		}
	}

	return false
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}

	return false
}
