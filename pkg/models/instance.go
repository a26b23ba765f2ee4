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

import (
	"fmt"
	"strconv"
	"strings"
)

// InstanceID joins a service name and instance index into the canonical
// instance identifier, e.g. "Sampler-0".
func InstanceID(serviceName string, index int) string {
	return serviceName + "-" + strconv.Itoa(index)
}

// SplitInstanceID recovers the index from an instance identifier.
func SplitInstanceID(instanceID string) (serviceName string, index int, err error) {
	pos := strings.LastIndex(instanceID, "-")
	if pos <= 0 || pos == len(instanceID)-1 {
		return "", 0, fmt.Errorf("malformed instance id %q", instanceID)
	}

	index, err = strconv.Atoi(instanceID[pos+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed instance id %q: %w", instanceID, err)
	}

	return instanceID[:pos], index, nil
}

// Field names of the per-instance health hash.
const (
	HealthHostName    = "hostName"
	HealthHostIP      = "hostIp"
	HealthUUID        = "uuid"
	HealthServiceName = "serviceName"
	HealthCreatedTime = "createdTime"
	HealthUpdatedTime = "updatedTime"
	HealthUptime      = "uptime"
	HealthStartTime   = "startTime"
	HealthStartTimeNs = "startTimeNs"
	HealthStopTime    = "stopTime"
	HealthStopTimeNs  = "stopTimeNs"

	HealthCPUPercent     = "cpuPercent"
	HealthRSSBytes       = "rssBytes"
	HealthMemUsedPercent = "memUsedPercent"
	HealthLoad1          = "load1"
)

// Identity is the once-assigned identity of a running instance.
type Identity struct {
	UUID        string
	ServiceName string
	Index       int
	HostName    string
	HostIP      string
	PID         int
	CreatedTime string
}

// ID returns the instance identifier of this identity.
func (id *Identity) ID() string {
	return InstanceID(id.ServiceName, id.Index)
}
