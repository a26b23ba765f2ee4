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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
)

type fakeSession struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (f *fakeSession) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.msgs = append(f.msgs, cp)

	return nil
}

func (f *fakeSession) messages() []models.ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.ServerMessage, 0, len(f.msgs))

	for _, raw := range f.msgs {
		var m models.ServerMessage
		if err := json.Unmarshal(raw, &m); err == nil && m.Type != "" {
			out = append(out, m)
		}
	}

	return out
}

func newTestHub(t *testing.T, mr *miniredis.Miniredis, cfg Config) (*Hub, *redis.Client) {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, cfg, logger.NewTestLogger()), client
}

func TestRunNumberRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, _ := newTestHub(t, mr, Config{})

	sess := &fakeSession{}
	connID := h.AddSession(sess)

	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-incr","value":"run_number"}`))
	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-get","value":"run_number"}`))

	msgs := sess.messages()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, models.ServerTypeSetRunNumber, msgs[0].Type)
	assert.Equal(t, "1", msgs[0].Value)

	assert.Equal(t, "1", mustGet(t, mr, "run_info:run_number"))
}

func TestRedisSetHonorsWhitelist(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, _ := newTestHub(t, mr, Config{})
	connID := h.AddSession(&fakeSession{})

	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-set","name":"wait-ready","value":"1"}`))
	assert.Equal(t, "1", mustGet(t, mr, "run_info:wait-ready"))

	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-set","name":"latest_run_number","value":"99"}`))
	assert.False(t, mr.Exists("run_info:latest_run_number"))
}

func TestRunSequencing(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	hookFile := t.TempDir() + "/hooks"

	h, client := newTestHub(t, mr, Config{
		PreRun:  "echo P1 >> " + hookFile,
		PostRun: "echo P2 >> " + hookFile,
	})

	sub := client.Subscribe(ctx, "daqctl")
	defer sub.Close()

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	sess := &fakeSession{}
	connID := h.AddSession(sess)

	// The client advances the counter, then requests RUN.
	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-incr","value":"run_number"}`))
	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-publish","value":"RUN","services":["Foo"],"instances":["all"]}`))

	// RUN copies the counter into latest_run_number without advancing it.
	assert.Equal(t, "1", mustGet(t, mr, "run_info:run_number"))
	assert.Equal(t, "1", mustGet(t, mr, "run_info:latest_run_number"))

	msgs := sess.messages()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, models.ServerTypeSetRunNumber, msgs[0].Type)
	assert.Equal(t, "1", msgs[0].Value)
	assert.Equal(t, models.ServerTypeSetLatestRunNum, msgs[1].Type)
	assert.Equal(t, "1", msgs[1].Value)

	// The RUN command went out on the command channel.
	select {
	case msg := <-sub.Channel():
		var cmd models.CommandMessage
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &cmd))
		assert.Equal(t, models.CommandChangeState, cmd.Command)
		assert.Equal(t, "RUN", cmd.Value)
		assert.Equal(t, []string{"Foo"}, cmd.Services)
	case <-time.After(2 * time.Second):
		t.Fatal("RUN was not published")
	}

	// Hooks ran in order around the publish.
	data := readFile(t, hookFile)
	assert.Equal(t, "P1\nP2\n", data)

	assert.True(t, mr.Exists("run_info:start_time"))
	assert.True(t, mr.Exists("run_info:start_time_ns"))
}

func TestBarrierWait(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, client := newTestHub(t, mr, Config{})

	require.NoError(t, mr.Set("run_info:wait-device-ready", "true"))
	require.NoError(t, mr.Set("daq_service:Foo:Foo-0:fair:mq:state", "Bound"))
	require.NoError(t, mr.Set("daq_service:Foo:Foo-1:fair:mq:state", "Bound"))

	sub := client.Subscribe(ctx, "daqctl")
	defer sub.Close()

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	// Instances reach DeviceReady shortly after the CONNECT broadcast.
	go func() {
		<-sub.Channel()
		time.Sleep(250 * time.Millisecond)
		_ = mr.Set("daq_service:Foo:Foo-0:fair:mq:state", "DeviceReady")
		_ = mr.Set("daq_service:Foo:Foo-1:fair:mq:state", "DeviceReady")
	}()

	connID := h.AddSession(&fakeSession{})

	start := time.Now()
	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-publish","value":"CONNECT","services":["Foo"],"instances":["all"]}`))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "barrier returned before the fleet was ready")
}

func TestUniformIn(t *testing.T) {
	targets := waitDeviceReadyTargets

	assert.True(t, uniformIn([]string{"Ready", "Ready"}, targets))
	assert.True(t, uniformIn([]string{"Running"}, targets))
	assert.False(t, uniformIn([]string{"Ready", "Running"}, targets))
	assert.False(t, uniformIn([]string{"Bound"}, targets))
	assert.False(t, uniformIn(nil, targets))
}

func TestHandleMessageBadInput(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	h, _ := newTestHub(t, mr, Config{})
	sess := &fakeSession{}
	connID := h.AddSession(sess)

	h.HandleMessage(ctx, connID, []byte(`not json`))
	h.HandleMessage(ctx, connID, []byte(`{"value":"RUN"}`))
	h.HandleMessage(ctx, connID, []byte(`{"command":"no-such"}`))
	h.HandleMessage(ctx, connID, []byte(`{"command":"redis-publish","value":"frobnicate","services":["all"],"instances":["all"]}`))

	assert.Empty(t, sess.messages())
}

func TestSendBroadcastAndUnicast(t *testing.T) {
	mr := miniredis.RunT(t)

	h, _ := newTestHub(t, mr, Config{})

	s1 := &fakeSession{}
	s2 := &fakeSession{}
	id1 := h.AddSession(s1)
	h.AddSession(s2)

	h.Send(id1, []byte(`{"type":"error","value":"x"}`))
	assert.Len(t, s1.messages(), 1)
	assert.Empty(t, s2.messages())

	h.Send(BroadcastID, []byte(`{"type":"error","value":"y"}`))
	assert.Len(t, s1.messages(), 2)
	assert.Len(t, s2.messages(), 1)

	h.RemoveSession(id1)
	h.Send(BroadcastID, []byte(`{"type":"error","value":"z"}`))
	assert.Len(t, s1.messages(), 2)
}
