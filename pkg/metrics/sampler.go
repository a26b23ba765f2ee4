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

// Package metrics samples process and host figures for the per-instance
// health record.
package metrics

import (
	"context"
	"os"
	"strconv"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
)

// Sampler reads process CPU and memory plus host memory and load.
type Sampler struct {
	proc *process.Process
	log  logger.Logger
}

// NewSampler builds a sampler for the current process.
func NewSampler(log logger.Logger) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	return &Sampler{proc: proc, log: log.WithComponent("metrics")}, nil
}

// Sample returns the health-hash fields for one tick. Individual probe
// failures degrade to missing fields rather than an error.
func (s *Sampler) Sample(_ context.Context) map[string]string {
	fields := make(map[string]string, 4)

	if cpuPct, err := s.proc.CPUPercent(); err == nil {
		fields[models.HealthCPUPercent] = strconv.FormatFloat(cpuPct, 'f', 2, 64)
	} else {
		s.log.Debug().Err(err).Msg("CPU sample failed")
	}

	if memInfo, err := s.proc.MemoryInfo(); err == nil {
		fields[models.HealthRSSBytes] = strconv.FormatUint(memInfo.RSS, 10)
	} else {
		s.log.Debug().Err(err).Msg("RSS sample failed")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fields[models.HealthMemUsedPercent] = strconv.FormatFloat(vm.UsedPercent, 'f', 2, 64)
	}

	if avg, err := load.Avg(); err == nil {
		fields[models.HealthLoad1] = strconv.FormatFloat(avg.Load1, 'f', 2, 64)
	}

	return fields
}
