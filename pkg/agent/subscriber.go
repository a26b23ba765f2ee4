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
	"encoding/json"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/models"
)

// subscribeLoop consumes the command channel and forwards matching
// command values to the state-control task.
func (a *Agent) subscribeLoop(ctx context.Context) error {
	sub := a.client.Subscribe(ctx, keyspace.CommandChannel)
	defer sub.Close()

	ch := sub.Channel()

	a.log.Debug().Str("channel", keyspace.CommandChannel).Msg("Subscribed to command channel")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			a.handleCommandMessage(msg.Payload)
		}
	}
}

// handleCommandMessage validates and filters one command-channel payload.
// Bad input drops the message; a mismatched target is silence.
func (a *Agent) handleCommandMessage(payload string) {
	var msg models.CommandMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		a.log.Error().Err(err).Msg("Malformed command message")
		return
	}

	if msg.Command != models.CommandChangeState {
		return
	}

	switch {
	case msg.Value == "":
		a.log.Error().Msg("Command message without value")
		return
	case len(msg.Services) == 0:
		a.log.Error().Msg("Command message without services")
		return
	case len(msg.Instances) == 0:
		a.log.Error().Msg("Command message without instances")
		return
	}

	if !msg.AppliesTo(a.identity.ServiceName, a.identity.ID()) {
		return
	}

	a.log.Debug().Str("value", msg.Value).Msg("Command accepted")

	select {
	case a.commands <- msg.Value:
	default:
		a.log.Warn().Str("value", msg.Value).Msg("Command queue full, dropping")
	}
}
