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

package topology

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
)

func newTestResolver(t *testing.T, client *redis.Client, service string, index int) *Resolver {
	t.Helper()

	identity := &models.Identity{
		UUID:        fmt.Sprintf("uuid-%s-%d", service, index),
		ServiceName: service,
		Index:       index,
		HostIP:      "127.0.0.1",
		HostName:    "testhost",
	}

	return New(client, Config{
		Identity: identity,
		Keys:     keyspace.New("", ""),
		MaxTTL:   30 * time.Second,
		MaxRetry: 1,
	}, logger.NewTestLogger())
}

// provisionFanOut writes the endpoint, link, presence and health entries the
// resolvers consume.
func provisionFanOut(t *testing.T, mr *miniredis.Miniredis, nSinks int) {
	t.Helper()

	mr.HSet("daq_service:topology:endpoint:A:out",
		"type", "push", "method", "bind", "numSockets", "0", "autoSubChannel", "true")
	mr.HSet("daq_service:topology:endpoint:B:in",
		"type", "pull", "method", "connect")

	require.NoError(t, mr.Set("daq_service:topology:link:A:out,B:in", ""))

	require.NoError(t, mr.Set("daq_service:A:A-0:presence", "uuid-A-0"))
	mr.HSet("daq_service:A:A-0:health", "hostIp", "127.0.0.1")

	for i := 0; i < nSinks; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("daq_service:B:B-%d:presence", i), fmt.Sprintf("uuid-B-%d", i)))
		mr.HSet(fmt.Sprintf("daq_service:B:B-%d:health", i), "hostIp", "127.0.0.1")
	}
}

func TestFanOutOneToThree(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	provisionFanOut(t, mr, 3)

	// Source side: catalog, bind, publish.
	source := newTestResolver(t, client, "A", 0)

	opts, err := source.Initialize(ctx)
	require.NoError(t, err)
	require.Len(t, opts, 1)

	require.Equal(t, 3, source.bindChannels["out"].NumSockets)

	require.NoError(t, source.Bind(ctx))
	require.NoError(t, source.OnBound(ctx))

	bindAddrs := source.bindChannels["out"].Addresses()
	require.Len(t, bindAddrs, 3)

	assert.Equal(t, "1", mr.HGet("daq_service:A:A-0:channel:out", "bound"))

	// The peer list orders the sinks; each sink's position picks its
	// sub-socket.
	peerList, err := mr.List("daq_service:A:A-0:channel:out:peer")
	require.NoError(t, err)
	require.Equal(t, []string{
		"daq_service:B:B-0:channel:in",
		"daq_service:B:B-1:channel:in",
		"daq_service:B:B-2:channel:in",
	}, peerList)

	// Sink side: every B-i resolves exactly its own sub-socket of A-0.
	seen := make(map[string]bool)

	for i := 0; i < 3; i++ {
		sink := newTestResolver(t, client, "B", i)

		_, err := sink.Initialize(ctx)
		require.NoError(t, err)

		require.NoError(t, sink.OnBound(ctx))

		got := sink.connectChannels["in"].Address
		assert.Equal(t, bindAddrs[i], got, "B-%d", i)
		assert.False(t, seen[got], "duplicate address %s", got)
		seen[got] = true
	}
}

func TestOneToOneResolve(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mr.HSet("daq_service:topology:endpoint:A:out",
		"type", "push", "method", "bind", "address", "tcp://0.0.0.0:6001", "numSockets", "1")
	mr.HSet("daq_service:topology:endpoint:B:in",
		"type", "pull", "method", "connect")
	require.NoError(t, mr.Set("daq_service:topology:link:A:out,B:in", ""))
	require.NoError(t, mr.Set("daq_service:A:A-0:presence", "uuid-A-0"))
	require.NoError(t, mr.Set("daq_service:B:B-0:presence", "uuid-B-0"))
	mr.HSet("daq_service:A:A-0:health", "hostIp", "10.1.2.3")
	mr.HSet("daq_service:B:B-0:health", "hostIp", "10.1.2.4")

	source := newTestResolver(t, client, "A", 0)
	_, err := source.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, source.Bind(ctx))
	require.NoError(t, source.OnBound(ctx))

	// The explicit wildcard bind keeps its port and is rewritten onto
	// the source's host IP on the connect side.
	sink := newTestResolver(t, client, "B", 0)
	_, err = sink.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, sink.OnBound(ctx))

	assert.Equal(t, "tcp://10.1.2.3:6001", sink.connectChannels["in"].Address)
}

func TestConfigConnectResolvesSymbolicPeer(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mr.HSet("daq_service:A:A-0:health", "hostIp", "10.1.2.3")
	mr.HSet("daq_service:A:A-0:socket:chans.out.0", "address", "tcp://0.0.0.0:7001")
	mr.HSet("daq_service:A:A-0:socket:chans.out.1", "address", "tcp://0.0.0.0:7002")

	sink := newTestResolver(t, client, "B", 0)
	sink.connectConfig = `{"in":{"peer":"A:out[1]","type":"pull"}}`

	_, err := sink.Initialize(ctx)
	require.NoError(t, err)

	require.NoError(t, sink.ConfigConnect(ctx))
	assert.Equal(t, "tcp://10.1.2.3:7002", sink.connectChannels["in"].Address)
}

func TestResetDeletesRegisteredKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	provisionFanOut(t, mr, 1)

	source := newTestResolver(t, client, "A", 0)
	_, err := source.Initialize(ctx)
	require.NoError(t, err)
	require.NoError(t, source.Bind(ctx))
	require.NoError(t, source.OnBound(ctx))

	require.True(t, mr.Exists("daq_service:A:A-0:channel:out"))
	require.NotEmpty(t, source.RegisteredKeys())

	source.Reset(ctx)

	assert.False(t, mr.Exists("daq_service:A:A-0:channel:out"))
	assert.False(t, mr.Exists("daq_service:A:A-0:channel:out:peer"))
	assert.False(t, mr.Exists("daq_service:A:A-0:socket:chans.out.0"))
	assert.Empty(t, source.RegisteredKeys())
}
