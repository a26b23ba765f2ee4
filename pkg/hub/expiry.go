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
	"encoding/json"
	"strconv"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/models"
)

// SubscribeLoop consumes the keyspace expiry channel and the instance
// state broadcast channel. Each expiry is handled in its own goroutine so
// a slow registry round trip cannot stall the subscriber.
func (h *Hub) SubscribeLoop(ctx context.Context) error {
	expiredChannel := keyspace.KeyEventExpiredChannel(h.cfg.DB)

	sub := h.client.Subscribe(ctx, expiredChannel, keyspace.StateChannel)
	defer sub.Close()

	h.log.Info().Str("channel", expiredChannel).Msg("Subscribed to keyspace expiry events")

	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			switch msg.Channel {
			case expiredChannel:
				go h.ProcessExpiredKey(ctx, msg.Payload)
			case keyspace.StateChannel:
				h.forwardInstanceState(msg.Payload)
			}
		}
	}
}

// ProcessExpiredKey reclaims the instance-index slot of an expired
// presence key. Safe to apply twice: HDEL of a missing field is a no-op.
func (h *Hub) ProcessExpiredKey(ctx context.Context, key string) {
	service, instanceID, ok := h.keys.InstanceFromPresence(key)
	if !ok {
		return
	}

	_, index, err := models.SplitInstanceID(instanceID)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Unparsable expired presence key")
		return
	}

	indexKey := h.keys.InstanceIndex(service)

	if err := h.client.HDel(ctx, indexKey, strconv.Itoa(index)).Err(); err != nil {
		h.log.Error().Err(err).Str("key", indexKey).Msg("Instance-index reclamation failed")
		return
	}

	h.log.Warn().
		Str("service", service).
		Str("instance", instanceID).
		Msg("Reclaimed instance index after presence expiry")
}

// forwardInstanceState relays a state broadcast to every client.
func (h *Hub) forwardInstanceState(payload string) {
	out, err := json.Marshal(struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}{
		Type:  models.ServerTypeInstanceState,
		Value: json.RawMessage(payload),
	})
	if err != nil {
		return
	}

	h.Send(BroadcastID, out)
}
