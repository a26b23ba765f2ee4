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

package models

// Transition is one edge of the device state graph.
type Transition string

const (
	TransitionInitDevice   Transition = "INIT DEVICE"
	TransitionCompleteInit Transition = "COMPLETE INIT"
	TransitionBind         Transition = "BIND"
	TransitionConnect      Transition = "CONNECT"
	TransitionInitTask     Transition = "INIT TASK"
	TransitionRun          Transition = "RUN"
	TransitionStop         Transition = "STOP"
	TransitionResetTask    Transition = "RESET TASK"
	TransitionResetDevice  Transition = "RESET DEVICE"
	TransitionEnd          Transition = "END"
)

// DAQ-level commands accepted on the command channel alongside the device
// transitions. Exit, Quit and END are all terminal.
const (
	DaqCommandExit  = "exit"
	DaqCommandQuit  = "quit"
	DaqCommandReset = "reset"
	DaqCommandStart = "start"
)

// FairMQTransitions is the set of device transition command values, as they
// appear on the wire.
var FairMQTransitions = []Transition{
	TransitionBind,
	TransitionCompleteInit,
	TransitionConnect,
	TransitionEnd,
	TransitionInitDevice,
	TransitionInitTask,
	TransitionResetDevice,
	TransitionResetTask,
	TransitionRun,
	TransitionStop,
}

// DaqCommands is the set of DAQ-level command values.
var DaqCommands = []string{
	DaqCommandExit,
	DaqCommandQuit,
	DaqCommandReset,
	DaqCommandStart,
}

// ParseTransition resolves a wire command value to a device transition.
// DAQ-level synonyms collapse onto their device transition; ok is false for
// values that are not lifecycle commands at all.
func ParseTransition(value string) (t Transition, terminal, ok bool) {
	switch value {
	case DaqCommandExit, DaqCommandQuit, string(TransitionEnd):
		return TransitionEnd, true, true
	case DaqCommandReset:
		return TransitionResetDevice, false, true
	case DaqCommandStart:
		return TransitionRun, false, true
	}

	for _, ft := range FairMQTransitions {
		if value == string(ft) {
			return ft, ft == TransitionEnd, true
		}
	}

	return "", false, false
}

// IsTerminalCommand reports whether a wire value requests shutdown after
// dispatch.
func IsTerminalCommand(value string) bool {
	switch value {
	case DaqCommandExit, DaqCommandQuit, string(TransitionEnd):
		return true
	}

	return false
}
