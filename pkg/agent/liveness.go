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

package agent

import (
	"context"
	"fmt"
	"time"
)

// livenessLoop refreshes every TTL'd key this instance owns, once per
// update interval. A failed refresh is retried on the next tick.
func (a *Agent) livenessLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.TTLUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.refreshTTL(ctx); err != nil {
				a.log.Warn().Err(err).Msg("Liveness refresh failed")
			}
		}
	}
}

// refreshTTL re-arms presence, state and update-time, extends the hashes,
// and delegates to the topology resolver for its registered keys. One
// atomic pipeline so peers observe all or nothing.
func (a *Agent) refreshTTL(ctx context.Context) error {
	service := a.identity.ServiceName
	id := a.identity.ID()
	now := time.Now()

	healthFields := []interface{}{
		"updatedTime", now.Format(time.RFC3339),
		"uptime", fmt.Sprintf("%d", now.Sub(a.createdAt).Nanoseconds()),
	}

	if a.HealthSampler != nil {
		for k, v := range a.HealthSampler(ctx) {
			healthFields = append(healthFields, k, v)
		}
	}

	pipe := a.client.TxPipeline()
	pipe.SetEx(ctx, a.keys.Presence(service, id), a.identity.UUID, a.cfg.MaxTTL)
	pipe.SetEx(ctx, a.keys.State(service, id), string(a.State()), a.cfg.MaxTTL)
	pipe.SetEx(ctx, a.keys.UpdateTime(service, id), now.Format(time.RFC3339), a.cfg.MaxTTL)
	pipe.HSet(ctx, a.keys.Health(service, id), healthFields...)
	pipe.Expire(ctx, a.keys.Health(service, id), a.cfg.MaxTTL)
	pipe.Expire(ctx, a.keys.Option(service, id), a.cfg.MaxTTL)

	for _, key := range a.resolver.RegisteredKeys() {
		pipe.Expire(ctx, key, a.cfg.MaxTTL)
	}

	_, err := pipe.Exec(ctx)

	return err
}
