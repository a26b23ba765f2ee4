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
	"strings"

	"github.com/carverauto/nestdaq/pkg/models"
)

// startupTargets maps the --startup-state names onto the command that
// reaches them.
var startupTargets = map[string]models.Transition{
	"initialized":  models.TransitionCompleteInit,
	"bound":        models.TransitionBind,
	"device-ready": models.TransitionConnect,
	"ready":        models.TransitionInitTask,
	"running":      models.TransitionRun,
}

// runStartupSequence auto-walks from Idle to the configured startup
// state.
func (a *Agent) runStartupSequence(ctx context.Context) {
	target := strings.ToLower(a.cfg.StartupState)
	if target == "" || target == "idle" {
		return
	}

	cmd, ok := startupTargets[target]
	if !ok {
		a.log.Error().Str("startup_state", a.cfg.StartupState).Msg("Unknown startup state")
		return
	}

	a.log.Info().Str("startup_state", target).Msg("Walking to startup state")

	for _, step := range Expand(a.State(), cmd) {
		if ctx.Err() != nil || a.shutdownRequested.Load() {
			return
		}

		if err := a.executeTransition(ctx, step); err != nil {
			return
		}
	}
}

// runShutdownSequence walks the reverse path to Exiting from wherever the
// agent stands. Already Exiting, or dead in Error, it only releases the
// payload loop.
func (a *Agent) runShutdownSequence(ctx context.Context) {
	a.shutdownRequested.Store(true)
	a.stopRunLoop()

	state := a.State()
	if state == models.StateExiting || state == models.StateError {
		return
	}

	for _, step := range Expand(state, models.TransitionEnd) {
		if err := a.executeTransition(ctx, step); err != nil {
			return
		}
	}

	a.log.Debug().Msg("Shutdown sequence done")
}
