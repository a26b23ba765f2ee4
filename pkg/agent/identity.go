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
	"strconv"
	"time"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

// maxIndexProbe bounds the HSETNX probe loop; an instance fleet beyond
// this size means something else is wrong.
const maxIndexProbe = 4096

// register acquires the instance index under the distributed lock and
// publishes the initial presence, health, state and option keys.
func (a *Agent) register(ctx context.Context) error {
	if err := a.acquireIndex(ctx); err != nil {
		return err
	}

	a.identity.CreatedTime = a.createdAt.Format(time.RFC3339)

	service := a.identity.ServiceName
	id := a.identity.ID()

	healthKey := a.keys.Health(service, id)
	optionKey := a.keys.Option(service, id)
	stateKey := a.keys.State(service, id)
	updateKey := a.keys.UpdateTime(service, id)

	now := time.Now().Format(time.RFC3339)

	pipe := a.client.TxPipeline()
	pipe.HSet(ctx, healthKey,
		models.HealthHostName, a.identity.HostName,
		models.HealthHostIP, a.identity.HostIP,
		models.HealthUUID, a.identity.UUID,
		models.HealthServiceName, service,
		models.HealthCreatedTime, a.identity.CreatedTime,
		models.HealthUpdatedTime, now,
		models.HealthUptime, "0",
		"pid", strconv.Itoa(a.identity.PID),
	)
	pipe.Expire(ctx, healthKey, a.cfg.MaxTTL)

	if len(a.cfg.Options) > 0 {
		fields := make([]interface{}, 0, 2*len(a.cfg.Options))
		for k, v := range a.cfg.Options {
			fields = append(fields, k, v)
		}

		pipe.HSet(ctx, optionKey, fields...)
		pipe.Expire(ctx, optionKey, a.cfg.MaxTTL)
	}

	pipe.SetEx(ctx, stateKey, string(models.StateIdle), a.cfg.MaxTTL)
	pipe.SetEx(ctx, updateKey, now, a.cfg.MaxTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish instance keys: %w", err)
	}

	a.registeredKeys[healthKey] = true
	a.registeredKeys[stateKey] = true
	a.registeredKeys[updateKey] = true

	if len(a.cfg.Options) > 0 {
		a.registeredKeys[optionKey] = true
	}

	return nil
}

// acquireIndex assigns the smallest free instance index for this service:
// under the "resource" lock it garbage-collects index slots whose uuids
// have no live presence, reuses a slot already owned by this uuid, and
// otherwise probes slots with HSETNX until one sticks.
func (a *Agent) acquireIndex(ctx context.Context) error {
	locker := redisutil.NewLocker(a.client)

	release, err := locker.Acquire(ctx, keyspace.ResourceLock)
	if err != nil {
		return fmt.Errorf("failed to acquire registration lock: %w", err)
	}

	defer func() {
		if err := release(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to release registration lock")
		}
	}()

	liveUUIDs, err := a.livePresenceUUIDs(ctx)
	if err != nil {
		return err
	}

	indexKey := a.keys.InstanceIndex(a.identity.ServiceName)

	assigned, err := a.client.HGetAll(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read instance-index hash: %w", err)
	}

	myIndex := -1

	var expired []string

	for field, ownerUUID := range assigned {
		switch {
		case !liveUUIDs[ownerUUID]:
			a.log.Warn().Str("index", field).Str("uuid", ownerUUID).Msg("Reclaiming expired instance index")

			expired = append(expired, field)
		case ownerUUID == a.identity.UUID:
			if idx, err := strconv.Atoi(field); err == nil {
				myIndex = idx

				a.log.Debug().Int("index", idx).Msg("Reusing instance index")
			}
		}
	}

	if len(expired) > 0 {
		if err := a.client.HDel(ctx, indexKey, expired...).Err(); err != nil {
			return fmt.Errorf("failed to garbage-collect instance indexes: %w", err)
		}
	}

	if myIndex < 0 {
		for index := 0; index < maxIndexProbe; index++ {
			won, err := a.client.HSetNX(ctx, indexKey, strconv.Itoa(index), a.identity.UUID).Result()
			if err != nil {
				return fmt.Errorf("failed to claim instance index: %w", err)
			}

			if won {
				myIndex = index
				break
			}
		}
	}

	if myIndex < 0 {
		return errNoInstanceIndex
	}

	a.identity.Index = myIndex
	a.registeredHashes[indexKey] = strconv.Itoa(myIndex)

	presenceKey := a.keys.Presence(a.identity.ServiceName, a.identity.ID())
	if err := a.client.SetEx(ctx, presenceKey, a.identity.UUID, a.cfg.MaxTTL).Err(); err != nil {
		return fmt.Errorf("failed to write presence key: %w", err)
	}

	a.registeredKeys[presenceKey] = true

	return nil
}

// livePresenceUUIDs collects the uuid value of every live presence key of
// this service.
func (a *Agent) livePresenceUUIDs(ctx context.Context) (map[string]bool, error) {
	keys, err := redisutil.ScanKeys(ctx, a.client, a.keys.PresencePattern(a.identity.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to scan presence keys: %w", err)
	}

	values, present, err := redisutil.MGetStrings(ctx, a.client, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence values: %w", err)
	}

	live := make(map[string]bool, len(values))

	for i, v := range values {
		if present[i] {
			live[v] = true
		}
	}

	return live, nil
}

// unregister deletes every key and hash slot this instance owns.
func (a *Agent) unregister(ctx context.Context) {
	for _, key := range a.resolver.RegisteredKeys() {
		a.registeredKeys[key] = true
	}

	if len(a.registeredKeys) > 0 {
		keys := make([]string, 0, len(a.registeredKeys))
		for key := range a.registeredKeys {
			keys = append(keys, key)
		}

		if err := a.client.Del(ctx, keys...).Err(); err != nil {
			a.log.Error().Err(err).Msg("Failed to delete instance keys")
		}

		a.registeredKeys = make(map[string]bool)
	}

	for key, field := range a.registeredHashes {
		if err := a.client.HDel(ctx, key, field).Err(); err != nil {
			a.log.Error().Err(err).Str("key", key).Str("field", field).Msg("Failed to delete hash slot")
		}
	}

	a.registeredHashes = make(map[string]string)

	a.log.Info().Str("instance", a.identity.ID()).Msg("Instance unregistered")
}
