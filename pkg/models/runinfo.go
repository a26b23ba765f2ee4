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

// Run bookkeeping lives under the run_info namespace, written exclusively
// by the controller.
const (
	RunInfoPrefix = "run_info"

	RunInfoRunNumber       = "run_number"
	RunInfoLatestRunNumber = "latest_run_number"
	RunInfoStartTime       = "start_time"
	RunInfoStopTime        = "stop_time"
	RunInfoWaitDeviceReady = "wait-device-ready"
	RunInfoWaitReady       = "wait-ready"
)

// RunInfoSettable is the whitelist of run_info fields writable through the
// client redis-set command.
var RunInfoSettable = map[string]bool{
	RunInfoRunNumber:       true,
	RunInfoWaitDeviceReady: true,
	RunInfoWaitReady:       true,
}

// TruthyFlag interprets a run_info barrier flag value.
func TruthyFlag(value string) bool {
	switch value {
	case "1", "true", "TRUE", "True", "yes", "on":
		return true
	}

	return false
}
