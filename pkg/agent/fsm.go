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
	"github.com/carverauto/nestdaq/pkg/models"
)

// forwardStates is the happy-path chain of settled states.
var forwardStates = []models.State{
	models.StateIdle,
	models.StateInitializingDevice,
	models.StateInitialized,
	models.StateBound,
	models.StateDeviceReady,
	models.StateReady,
	models.StateRunning,
}

// forwardTransitions[i] moves forwardStates[i] to forwardStates[i+1].
var forwardTransitions = []models.Transition{
	models.TransitionInitDevice,
	models.TransitionCompleteInit,
	models.TransitionBind,
	models.TransitionConnect,
	models.TransitionInitTask,
	models.TransitionRun,
}

// transientStates is published while a transition is in flight; empty for
// transitions that settle immediately.
var transientStates = map[models.Transition]models.State{
	models.TransitionInitDevice:  models.StateInitializingDevice,
	models.TransitionBind:        models.StateBinding,
	models.TransitionConnect:     models.StateConnecting,
	models.TransitionInitTask:    models.StateInitializingTask,
	models.TransitionResetTask:   models.StateResettingTask,
	models.TransitionResetDevice: models.StateResettingDevice,
}

// edges enumerates every legal single-step transition.
var edges = map[models.State]map[models.Transition]models.State{
	models.StateIdle: {
		models.TransitionInitDevice: models.StateInitializingDevice,
		models.TransitionEnd:        models.StateExiting,
	},
	models.StateInitializingDevice: {
		models.TransitionCompleteInit: models.StateInitialized,
	},
	models.StateInitialized: {
		models.TransitionBind:        models.StateBound,
		models.TransitionResetDevice: models.StateIdle,
	},
	models.StateBound: {
		models.TransitionConnect:     models.StateDeviceReady,
		models.TransitionResetDevice: models.StateIdle,
	},
	models.StateDeviceReady: {
		models.TransitionInitTask:    models.StateReady,
		models.TransitionResetDevice: models.StateIdle,
	},
	models.StateReady: {
		models.TransitionRun:       models.StateRunning,
		models.TransitionResetTask: models.StateDeviceReady,
	},
	models.StateRunning: {
		models.TransitionStop: models.StateReady,
	},
}

// NextState returns the end state of a single-step transition, or ok=false
// when the state table has no such edge.
func NextState(from models.State, via models.Transition) (models.State, bool) {
	to, ok := edges[from][via]
	return to, ok
}

func forwardIndex(s models.State) int {
	for i, fs := range forwardStates {
		if fs == s {
			return i
		}
	}

	return -1
}

func forwardTarget(t models.Transition) int {
	for i, ft := range forwardTransitions {
		if ft == t {
			return i + 1
		}
	}

	return -1
}

// resetPath walks a settled state back to Idle.
func resetPath(from models.State) []models.Transition {
	switch from {
	case models.StateRunning:
		return []models.Transition{models.TransitionStop, models.TransitionResetTask, models.TransitionResetDevice}
	case models.StateReady:
		return []models.Transition{models.TransitionResetTask, models.TransitionResetDevice}
	case models.StateDeviceReady, models.StateBound, models.StateInitialized:
		return []models.Transition{models.TransitionResetDevice}
	case models.StateInitializingDevice:
		return []models.Transition{models.TransitionCompleteInit, models.TransitionResetDevice}
	default:
		return nil
	}
}

// Expand translates a command into the ordered single-step transitions
// that carry the given state to the command's target. An empty expansion
// means the command does not apply in this state.
func Expand(from models.State, cmd models.Transition) []models.Transition {
	if target := forwardTarget(cmd); target >= 0 {
		// INIT DEVICE carries through to Initialized, like COMPLETE INIT.
		if cmd == models.TransitionInitDevice {
			target = forwardTarget(models.TransitionCompleteInit)
		}

		current := forwardIndex(from)
		if current < 0 || current >= target {
			return nil
		}

		steps := make([]models.Transition, target-current)
		copy(steps, forwardTransitions[current:target])

		return steps
	}

	switch cmd {
	case models.TransitionStop:
		if from == models.StateRunning {
			return []models.Transition{models.TransitionStop}
		}
	case models.TransitionResetTask:
		switch from {
		case models.StateRunning:
			return []models.Transition{models.TransitionStop, models.TransitionResetTask}
		case models.StateReady:
			return []models.Transition{models.TransitionResetTask}
		}
	case models.TransitionResetDevice:
		return resetPath(from)
	case models.TransitionEnd:
		if from == models.StateExiting || from == models.StateError {
			return nil
		}

		return append(resetPath(from), models.TransitionEnd)
	}

	return nil
}
