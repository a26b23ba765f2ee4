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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeAddress(t *testing.T) {
	tests := []struct {
		address string
		peerIP  string
		want    string
	}{
		{"tcp://0.0.0.0:5555", "192.168.1.10", "tcp://192.168.1.10:5555"},
		{"tcp://*:5555", "192.168.1.10", "tcp://192.168.1.10:5555"},
		{"tcp://10.0.0.2:5555", "192.168.1.10", "tcp://10.0.0.2:5555"},
		{"ipc://@/tmp/nestdaq/Foo/Foo-0/out[0]", "192.168.1.10", "ipc://@/tmp/nestdaq/Foo/Foo-0/out[0]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MakeAddress(tt.address, tt.peerIP), tt.address)
	}
}

func TestSocketPropertyFromHash(t *testing.T) {
	sp := SocketPropertyFromHash("out", map[string]string{
		"type":           "push",
		"method":         "bind",
		"numSockets":     "3",
		"autoSubChannel": "true",
		"bound":          "1",
		"sndBufSize":     "2000",
	})

	assert.Equal(t, "out", sp.Name)
	assert.Equal(t, "push", sp.Type)
	assert.Equal(t, "bind", sp.Method)
	assert.Equal(t, "zeromq", sp.Transport)
	assert.Equal(t, 3, sp.NumSockets)
	assert.True(t, sp.AutoSubChannel)
	assert.True(t, sp.Bound)
	assert.Equal(t, 2000, sp.SndBufSize)
	assert.Equal(t, 1000, sp.RcvBufSize)

	back := SocketPropertyFromHash("", sp.ToHash())
	assert.Equal(t, sp, back)
}

func TestAddresses(t *testing.T) {
	sp := NewSocketProperty("out")
	sp.NumSockets = 3
	sp.Address = "tcp://10.0.0.1:1,tcp://10.0.0.1:2"

	assert.Equal(t, []string{"tcp://10.0.0.1:1", "tcp://10.0.0.1:2", "unspecified"}, sp.Addresses())

	sp.Address = ""
	sp.NumSockets = 0
	assert.Equal(t, []string{"unspecified"}, sp.Addresses())
}

func TestToChannelConfig(t *testing.T) {
	sp := NewSocketProperty("in")
	sp.Type = "pull"
	sp.Method = "connect"
	sp.Address = "tcp://10.0.0.1:5555"

	cfg := sp.ToChannelConfig()
	assert.True(t, strings.HasPrefix(cfg, "name=in,type=pull,method=connect,address=tcp://10.0.0.1:5555,transport=zeromq"))

	sp.Address = ""
	sp.NumSockets = 3
	cfg = sp.ToChannelConfig()
	assert.Contains(t, cfg, "address=unspecified,address=unspecified,address=unspecified")

	sp.Address = "tcp://a:1,tcp://b:2"
	cfg = sp.ToChannelConfig()
	assert.Contains(t, cfg, "address=tcp://a:1,address=tcp://b:2,address=unspecified")
}
