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
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/nestdaq/pkg/models"
)

func TestBuildSummary(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, _ := newTestHub(t, mr, Config{})

	require.NoError(t, mr.Set("daq_service:Sampler:Sampler-0:fair:mq:state", "Running"))
	require.NoError(t, mr.Set("daq_service:Sampler:Sampler-1:fair:mq:state", "Running"))
	require.NoError(t, mr.Set("daq_service:Sink:Sink-0:fair:mq:state", "Ready"))
	require.NoError(t, mr.Set("daq_service:Sampler:Sampler-0:update-time", "2026-08-06T10:00:00Z"))
	require.NoError(t, mr.Set("daq_service:Sampler:Sampler-1:update-time", "2026-08-06T10:00:05Z"))

	table, err := h.buildSummary(ctx)
	require.NoError(t, err)
	require.Len(t, table, 2)

	sampler := table["Sampler"]
	require.NotNil(t, sampler)
	assert.Len(t, sampler.Instances, 2)
	assert.Equal(t, "Running", sampler.Instances["Sampler-0"].State)
	assert.Equal(t, models.NumStates, len(sampler.Counts))
	assert.Equal(t, 2, sampler.Counts[models.StateRunning.Index()])
	// The service date is the newest instance date.
	assert.Equal(t, "2026-08-06T10:00:05Z", sampler.Date)

	sink := table["Sink"]
	require.NotNil(t, sink)
	assert.Equal(t, 1, sink.Counts[models.StateReady.Index()])
}

func TestBuildSummaryEmpty(t *testing.T) {
	mr := miniredis.RunT(t)

	h, _ := newTestHub(t, mr, Config{})

	table, err := h.buildSummary(context.Background())
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestDiffSummary(t *testing.T) {
	mk := func(services map[string][]string) SummaryTable {
		table := make(SummaryTable)

		for name, instances := range services {
			svc := &ServiceState{Instances: make(map[string]InstanceState)}
			for _, id := range instances {
				svc.Instances[id] = InstanceState{State: "Idle"}
			}

			table[name] = svc
		}

		return table
	}

	base := mk(map[string][]string{"Foo": {"Foo-0", "Foo-1"}})

	svcChanged, instChanged := DiffSummary(base, mk(map[string][]string{"Foo": {"Foo-0", "Foo-1"}}))
	assert.False(t, svcChanged)
	assert.False(t, instChanged)

	svcChanged, instChanged = DiffSummary(base, mk(map[string][]string{"Foo": {"Foo-0", "Foo-1"}, "Bar": {"Bar-0"}}))
	assert.True(t, svcChanged)
	assert.True(t, instChanged)

	svcChanged, instChanged = DiffSummary(base, mk(map[string][]string{"Foo": {"Foo-0"}}))
	assert.False(t, svcChanged)
	assert.True(t, instChanged)

	svcChanged, instChanged = DiffSummary(base, mk(map[string][]string{"Foo": {"Foo-0", "Foo-2"}}))
	assert.False(t, svcChanged)
	assert.True(t, instChanged)
}

func TestPublishSummaryMessageShape(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, _ := newTestHub(t, mr, Config{})
	sess := &fakeSession{}
	h.AddSession(sess)

	require.NoError(t, mr.Set("daq_service:Foo:Foo-0:fair:mq:state", "Idle"))

	table, err := h.buildSummary(ctx)
	require.NoError(t, err)

	h.publishSummary(table)

	sess.mu.Lock()
	require.Len(t, sess.msgs, 1)
	raw := sess.msgs[0]
	sess.mu.Unlock()

	var msg summaryMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, models.ServerTypeStateSummary, msg.Type)
	assert.True(t, msg.ServiceListChanged)
	require.Len(t, msg.Services, 1)
	assert.Equal(t, "Foo", msg.Services[0].Service)
	assert.Equal(t, 1, msg.Services[0].NInstances)
	assert.Len(t, msg.Services[0].Counts, models.NumStates)

	// An unchanged second poll flips both change flags off.
	table, err = h.buildSummary(ctx)
	require.NoError(t, err)
	h.publishSummary(table)

	sess.mu.Lock()
	raw = sess.msgs[1]
	sess.mu.Unlock()

	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.False(t, msg.ServiceListChanged)
	assert.False(t, msg.InstanceListChanged)
}

func TestProcessExpiredKeyIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, _ := newTestHub(t, mr, Config{})

	mr.HSet("daq_service:service-instance-index:Foo", "0", "U1", "1", "U2")

	h.ProcessExpiredKey(ctx, "daq_service:Foo:Foo-0:presence")

	fields, err := mr.HKeys("daq_service:service-instance-index:Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, fields)

	// Applying the handler again must leave the registry unchanged.
	h.ProcessExpiredKey(ctx, "daq_service:Foo:Foo-0:presence")

	fields, err = mr.HKeys("daq_service:service-instance-index:Foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, fields)

	// Non-presence expirations are ignored.
	h.ProcessExpiredKey(ctx, "daq_service:Foo:Foo-1:health")
	assert.Equal(t, "U2", mr.HGet("daq_service:service-instance-index:Foo", "1"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()

	v, err := mr.Get(key)
	require.NoError(t, err)

	return v
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(data)
}
