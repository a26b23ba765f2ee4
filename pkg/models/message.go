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

// TargetAll is the wildcard accepted in the services and instances lists of
// a command message.
const TargetAll = "all"

// CommandMessage is the payload published on the command channel by the
// controller and consumed by every instance agent.
type CommandMessage struct {
	Command   string   `json:"command"`
	Value     string   `json:"value"`
	Services  []string `json:"services"`
	Instances []string `json:"instances"`
}

// CommandChangeState is the only command verb agents act on.
const CommandChangeState = "change_state"

// AppliesTo reports whether the message targets the given instance. An
// instance is addressed as "<service>:<instanceId>" in the instances list.
func (m *CommandMessage) AppliesTo(serviceName, instanceID string) bool {
	if containsString(m.Services, TargetAll) {
		return true
	}

	if !containsString(m.Services, serviceName) {
		return false
	}

	if containsString(m.Instances, TargetAll) {
		return true
	}

	return containsString(m.Instances, serviceName+":"+instanceID)
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}

	return false
}

// ClientRequest is an inbound websocket message from a browser client.
type ClientRequest struct {
	Command   string   `json:"command"`
	Name      string   `json:"name,omitempty"`
	Value     string   `json:"value,omitempty"`
	Services  []string `json:"services,omitempty"`
	Instances []string `json:"instances,omitempty"`
}

// Client command verbs handled by the controller hub.
const (
	ClientCommandGet     = "redis-get"
	ClientCommandSet     = "redis-set"
	ClientCommandIncr    = "redis-incr"
	ClientCommandPublish = "redis-publish"
)

// ServerMessage is a simple outbound websocket message from the controller
// hub. The state summary uses its own richer shape.
type ServerMessage struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// Outbound websocket message types.
const (
	ServerTypeStateSummary    = "state-summary-table"
	ServerTypeInstanceState   = "instance-state"
	ServerTypeSetRunNumber    = "set run_number"
	ServerTypeSetLatestRunNum = "set latest_run_number"
	ServerTypeError           = "error"
)
