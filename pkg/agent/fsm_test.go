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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carverauto/nestdaq/pkg/models"
)

func TestNextState(t *testing.T) {
	to, ok := NextState(models.StateIdle, models.TransitionInitDevice)
	assert.True(t, ok)
	assert.Equal(t, models.StateInitializingDevice, to)

	_, ok = NextState(models.StateIdle, models.TransitionRun)
	assert.False(t, ok)

	_, ok = NextState(models.StateRunning, models.TransitionRun)
	assert.False(t, ok)
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name string
		from models.State
		cmd  models.Transition
		want []models.Transition
	}{
		{
			"run from idle walks the whole chain",
			models.StateIdle, models.TransitionRun,
			[]models.Transition{
				models.TransitionInitDevice,
				models.TransitionCompleteInit,
				models.TransitionBind,
				models.TransitionConnect,
				models.TransitionInitTask,
				models.TransitionRun,
			},
		},
		{
			"init device from idle completes init",
			models.StateIdle, models.TransitionInitDevice,
			[]models.Transition{models.TransitionInitDevice, models.TransitionCompleteInit},
		},
		{
			"connect from bound",
			models.StateBound, models.TransitionConnect,
			[]models.Transition{models.TransitionConnect},
		},
		{
			"run from ready",
			models.StateReady, models.TransitionRun,
			[]models.Transition{models.TransitionRun},
		},
		{
			"run while running is a no-op",
			models.StateRunning, models.TransitionRun,
			nil,
		},
		{
			"stop from running",
			models.StateRunning, models.TransitionStop,
			[]models.Transition{models.TransitionStop},
		},
		{
			"stop from ready is a no-op",
			models.StateReady, models.TransitionStop,
			nil,
		},
		{
			"reset task from running stops first",
			models.StateRunning, models.TransitionResetTask,
			[]models.Transition{models.TransitionStop, models.TransitionResetTask},
		},
		{
			"reset device from running unwinds fully",
			models.StateRunning, models.TransitionResetDevice,
			[]models.Transition{models.TransitionStop, models.TransitionResetTask, models.TransitionResetDevice},
		},
		{
			"reset device from bound",
			models.StateBound, models.TransitionResetDevice,
			[]models.Transition{models.TransitionResetDevice},
		},
		{
			"end from running unwinds and exits",
			models.StateRunning, models.TransitionEnd,
			[]models.Transition{
				models.TransitionStop,
				models.TransitionResetTask,
				models.TransitionResetDevice,
				models.TransitionEnd,
			},
		},
		{
			"end from idle",
			models.StateIdle, models.TransitionEnd,
			[]models.Transition{models.TransitionEnd},
		},
		{
			"end from initializing device completes init first",
			models.StateInitializingDevice, models.TransitionEnd,
			[]models.Transition{models.TransitionCompleteInit, models.TransitionResetDevice, models.TransitionEnd},
		},
		{
			"end while exiting is a no-op",
			models.StateExiting, models.TransitionEnd,
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.from, tt.cmd))
		})
	}
}

// Every expansion must be executable step by step against the edge table.
func TestExpandStepsAreLegal(t *testing.T) {
	commands := append([]models.Transition{}, forwardTransitions...)
	commands = append(commands,
		models.TransitionStop,
		models.TransitionResetTask,
		models.TransitionResetDevice,
		models.TransitionEnd,
	)

	for _, from := range forwardStates {
		for _, cmd := range commands {
			state := from
			for _, step := range Expand(from, cmd) {
				next, ok := NextState(state, step)
				assert.True(t, ok, "illegal step %s from %s expanding %s@%s", step, state, cmd, from)
				state = next
			}
		}
	}
}
