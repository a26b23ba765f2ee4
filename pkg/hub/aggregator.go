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
	"sort"
	"time"

	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

// InstanceState is one instance's row in the summary.
type InstanceState struct {
	State string
	Date  string
}

// ServiceState aggregates one service: newest update date, per-instance
// states, and a histogram over the canonical state list.
type ServiceState struct {
	Date      string
	Instances map[string]InstanceState
	Counts    []int
}

// SummaryTable maps service name to its aggregate.
type SummaryTable map[string]*ServiceState

// PollState runs the aggregation scan on the poll interval until the
// context ends.
func (h *Hub) PollState(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			table, err := h.buildSummary(ctx)
			if err != nil {
				h.log.Warn().Err(err).Msg("State scan failed")
				continue
			}

			h.publishSummary(table)
		}
	}
}

// buildSummary reconstructs the per-service view from the per-instance
// state and update-time keys. The scan is not a consistent cut; clients
// converge on subsequent polls.
func (h *Hub) buildSummary(ctx context.Context) (SummaryTable, error) {
	table := make(SummaryTable)

	stateKeys, err := redisutil.ScanKeys(ctx, h.client, h.keys.StatePattern("*", "*"))
	if err != nil {
		return nil, err
	}

	if len(stateKeys) == 0 {
		return table, nil
	}

	stateValues, statePresent, err := redisutil.MGetStrings(ctx, h.client, stateKeys)
	if err != nil {
		return nil, err
	}

	for i, key := range stateKeys {
		ik, err := h.keys.ParseInstanceKey(key)
		if err != nil {
			continue
		}

		svc := table[ik.Service]
		if svc == nil {
			svc = &ServiceState{Instances: make(map[string]InstanceState)}
			table[ik.Service] = svc
		}

		state := string(models.StateUndefined)
		if statePresent[i] {
			state = stateValues[i]
		}

		svc.Instances[ik.InstanceID] = InstanceState{State: state}
	}

	updateKeys, err := redisutil.ScanKeys(ctx, h.client, h.keys.UpdateTimePattern())
	if err != nil {
		return nil, err
	}

	updateValues, updatePresent, err := redisutil.MGetStrings(ctx, h.client, updateKeys)
	if err != nil {
		return nil, err
	}

	for i, key := range updateKeys {
		if !updatePresent[i] {
			continue
		}

		ik, err := h.keys.ParseInstanceKey(key)
		if err != nil {
			continue
		}

		svc := table[ik.Service]
		if svc == nil {
			continue
		}

		inst, ok := svc.Instances[ik.InstanceID]
		if !ok {
			continue
		}

		inst.Date = updateValues[i]
		svc.Instances[ik.InstanceID] = inst
	}

	for _, svc := range table {
		svc.Counts = make([]int, models.NumStates)

		for _, inst := range svc.Instances {
			if inst.State != "" {
				svc.Counts[models.ParseState(inst.State).Index()]++
			}

			if inst.Date != "" && (svc.Date == "" || svc.Date < inst.Date) {
				svc.Date = inst.Date
			}
		}
	}

	return table, nil
}

// DiffSummary compares two snapshots and reports whether the service set
// or any service's instance set changed.
func DiffSummary(prev, cur SummaryTable) (serviceListChanged, instanceListChanged bool) {
	if len(prev) != len(cur) {
		return true, true
	}

	for name := range cur {
		if _, ok := prev[name]; !ok {
			return true, true
		}
	}

	for name, svc := range cur {
		prevSvc := prev[name]
		if len(prevSvc.Instances) != len(svc.Instances) {
			return false, true
		}

		for id := range svc.Instances {
			if _, ok := prevSvc.Instances[id]; !ok {
				return false, true
			}
		}
	}

	return false, false
}

// summaryCount is one histogram bucket on the wire.
type summaryCount struct {
	StateID int    `json:"state-id"`
	Name    string `json:"name"`
	Value   int    `json:"value"`
}

type summaryInstance struct {
	Service  string `json:"service"`
	Instance string `json:"instance"`
	State    string `json:"state"`
	Date     string `json:"date"`
}

type summaryService struct {
	Service    string            `json:"service"`
	Date       string            `json:"date"`
	NInstances int               `json:"n_instances"`
	Counts     []summaryCount    `json:"counts"`
	Instances  []summaryInstance `json:"instances"`
}

type summaryMessage struct {
	Type                string           `json:"type"`
	ServiceListChanged  bool             `json:"service_list_changed"`
	InstanceListChanged bool             `json:"instance_list_changed"`
	Services            []summaryService `json:"services"`
}

// publishSummary diffs against the previous snapshot and broadcasts the
// state-summary-table message.
func (h *Hub) publishSummary(table SummaryTable) {
	h.prevMu.Lock()
	serviceChanged, instanceChanged := DiffSummary(h.prevTable, table)
	h.prevTable = table
	h.prevMu.Unlock()

	msg := summaryMessage{
		Type:                models.ServerTypeStateSummary,
		ServiceListChanged:  serviceChanged,
		InstanceListChanged: instanceChanged,
		Services:            make([]summaryService, 0, len(table)),
	}

	for _, name := range sortedServiceNames(table) {
		svc := table[name]

		out := summaryService{
			Service:    name,
			Date:       svc.Date,
			NInstances: len(svc.Instances),
			Counts:     make([]summaryCount, 0, models.NumStates),
		}

		for i, st := range models.States {
			out.Counts = append(out.Counts, summaryCount{StateID: i, Name: string(st), Value: svc.Counts[i]})
		}

		for _, id := range sortedInstanceIDs(svc.Instances) {
			inst := svc.Instances[id]
			out.Instances = append(out.Instances, summaryInstance{
				Service:  name,
				Instance: id,
				State:    inst.State,
				Date:     inst.Date,
			})
		}

		msg.Services = append(msg.Services, out)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode state summary")
		return
	}

	h.Send(BroadcastID, payload)
}

func sortedServiceNames(table SummaryTable) []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func sortedInstanceIDs(m map[string]InstanceState) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
