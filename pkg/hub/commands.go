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
	"os"
	"os/exec"
	"strconv"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/models"
)

// knownCommands is every command value the hub will forward on the
// command channel.
var knownCommands = func() map[string]bool {
	m := make(map[string]bool)
	for _, t := range models.FairMQTransitions {
		m[string(t)] = true
	}

	for _, c := range models.DaqCommands {
		m[c] = true
	}

	return m
}()

// redisGet serves {command:"redis-get", value:"run_number"}: the current
// and latest run number go back to the requesting client.
func (h *Hub) redisGet(ctx context.Context, connID uint64, req *models.ClientRequest) {
	if req.Value != models.RunInfoRunNumber {
		return
	}

	h.replyRunNumber(ctx, connID)
	h.replyLatestRunNumber(ctx, connID)
}

func (h *Hub) replyRunNumber(ctx context.Context, connID uint64) {
	v, err := h.client.Get(ctx, h.keys.RunInfo(models.RunInfoRunNumber)).Result()
	if err != nil {
		h.sendMessage(connID, models.ServerTypeError, "could not get run number from the registry.")
		return
	}

	h.sendMessage(connID, models.ServerTypeSetRunNumber, v)
}

func (h *Hub) replyLatestRunNumber(ctx context.Context, connID uint64) {
	v, err := h.client.Get(ctx, h.keys.RunInfo(models.RunInfoLatestRunNumber)).Result()
	if err != nil {
		h.sendMessage(connID, models.ServerTypeError, "could not get latest run number from the registry.")
		return
	}

	h.sendMessage(connID, models.ServerTypeSetLatestRunNum, v)
}

// redisSet writes a whitelisted run_info field.
func (h *Hub) redisSet(ctx context.Context, connID uint64, req *models.ClientRequest) {
	if !models.RunInfoSettable[req.Name] {
		h.log.Error().Str("name", req.Name).Uint64("connid", connID).Msg("Attempt to set non-whitelisted run_info field")
		return
	}

	if err := h.client.Set(ctx, h.keys.RunInfo(req.Name), req.Value, 0).Err(); err != nil {
		h.log.Error().Err(err).Str("name", req.Name).Msg("run_info write failed")
	}
}

// redisIncr atomically increments the run number and echoes the new
// value.
func (h *Hub) redisIncr(ctx context.Context, connID uint64, req *models.ClientRequest) {
	if req.Value != models.RunInfoRunNumber {
		return
	}

	n, err := h.client.Incr(ctx, h.keys.RunInfo(models.RunInfoRunNumber)).Result()
	if err != nil {
		h.sendMessage(connID, models.ServerTypeError, "could not increment run number.")
		return
	}

	h.sendMessage(connID, models.ServerTypeSetRunNumber, strconv.FormatInt(n, 10))
}

// redisPublish forwards a lifecycle command onto the command channel,
// inserting run-number bookkeeping, barrier waits and shell hooks around
// the semantically ordered commands.
func (h *Hub) redisPublish(ctx context.Context, connID uint64, req *models.ClientRequest) {
	if req.Value == "" {
		h.log.Error().Uint64("connid", connID).Msg("redis-publish without value")
		return
	}

	if !knownCommands[req.Value] {
		h.log.Error().Str("value", req.Value).Msg("Unknown command value")
		return
	}

	waitDeviceReady := h.waitFlagSet(ctx, models.RunInfoWaitDeviceReady)
	waitReady := h.waitFlagSet(ctx, models.RunInfoWaitReady)

	switch req.Value {
	case string(models.TransitionRun):
		h.copyLatestRunNumber(ctx, connID)

		if waitDeviceReady {
			h.publishCommand(ctx, req, string(models.TransitionConnect))
			h.Wait(ctx, req.Services, req.Instances, waitDeviceReadyTargets)
		}

		if waitReady {
			h.publishCommand(ctx, req, string(models.TransitionInitTask))
			h.Wait(ctx, req.Services, req.Instances, waitReadyTargets)
		}

		h.writeRunBoundary(ctx, models.RunInfoStartTime)
		h.runHook("pre-run", h.cfg.PreRun)
		h.publishCommand(ctx, req, string(models.TransitionRun))
		h.runHook("post-run", h.cfg.PostRun)

	case string(models.TransitionStop):
		h.runHook("pre-stop", h.cfg.PreStop)
		h.publishCommand(ctx, req, string(models.TransitionStop))
		h.writeRunBoundary(ctx, models.RunInfoStopTime)
		h.runHook("post-stop", h.cfg.PostStop)

	case string(models.TransitionConnect):
		h.publishCommand(ctx, req, string(models.TransitionConnect))

		if waitDeviceReady {
			h.Wait(ctx, req.Services, req.Instances, waitDeviceReadyTargets)
		}

	case string(models.TransitionInitTask):
		if waitDeviceReady {
			h.publishCommand(ctx, req, string(models.TransitionConnect))
			h.Wait(ctx, req.Services, req.Instances, waitDeviceReadyTargets)
		}

		h.publishCommand(ctx, req, string(models.TransitionInitTask))

		if waitReady {
			h.Wait(ctx, req.Services, req.Instances, waitReadyTargets)
		}

	default:
		h.publishCommand(ctx, req, req.Value)
	}
}

// copyLatestRunNumber snapshots the current run_number into
// latest_run_number and echoes it to the requesting client. The counter
// itself only moves through the redis-incr client command.
func (h *Hub) copyLatestRunNumber(ctx context.Context, connID uint64) {
	value, err := h.client.Get(ctx, h.keys.RunInfo(models.RunInfoRunNumber)).Result()
	if err != nil {
		h.sendMessage(connID, models.ServerTypeError, "could not get run number from the registry.")
		return
	}

	if err := h.client.Set(ctx, h.keys.RunInfo(models.RunInfoLatestRunNumber), value, 0).Err(); err != nil {
		h.log.Error().Err(err).Msg("Failed to snapshot latest run number")
	}

	h.sendMessage(connID, models.ServerTypeSetLatestRunNum, value)
}

// writeRunBoundary stamps a run_info boundary time: the wall clock as
// RFC 3339 under field, and Unix-epoch nanoseconds under field+"_ns". Both
// are wall-clock readings; no monotonic value is written.
func (h *Hub) writeRunBoundary(ctx context.Context, field string) {
	now := nowFunc()

	pipe := h.client.TxPipeline()
	pipe.Set(ctx, h.keys.RunInfo(field), now.Format(timeLayout), 0)
	pipe.Set(ctx, h.keys.RunInfo(field+"_ns"), strconv.FormatInt(now.UnixNano(), 10), 0)

	if _, err := pipe.Exec(ctx); err != nil {
		h.log.Warn().Err(err).Str("field", field).Msg("Failed to write run boundary")
	}
}

// publishCommand sends a change_state message for the request's targets.
func (h *Hub) publishCommand(ctx context.Context, req *models.ClientRequest, value string) {
	msg := models.CommandMessage{
		Command:   models.CommandChangeState,
		Value:     value,
		Services:  req.Services,
		Instances: req.Instances,
	}

	payload, err := json.Marshal(&msg)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode command")
		return
	}

	if err := h.client.Publish(ctx, keyspace.CommandChannel, payload).Err(); err != nil {
		h.log.Error().Err(err).Str("value", value).Msg("Command publish failed")
		return
	}

	h.log.Info().Str("value", value).Strs("services", req.Services).Msg("Command published")
}

// waitFlagSet reads a run_info barrier flag; a missing key is false.
func (h *Hub) waitFlagSet(ctx context.Context, name string) bool {
	v, err := h.client.Get(ctx, h.keys.RunInfo(name)).Result()
	if err != nil {
		return false
	}

	return models.TruthyFlag(v)
}

// runHook executes a configured shell hook; the exit code is logged and
// ignored.
func (h *Hub) runHook(name, command string) {
	if command == "" {
		return
	}

	h.log.Info().Str("hook", name).Str("command", command).Msg("Running hook")

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		h.log.Warn().Err(err).Str("hook", name).Msg("Hook exited with error")
	}
}
