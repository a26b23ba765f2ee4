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

// Package keyspace builds and parses the registry key layout shared by the
// instance agents and the controller.
package keyspace

import (
	"fmt"
	"strings"
)

// Leaf names of the flat key namespace.
const (
	DefaultSeparator = ":"
	DefaultPrefix    = "daq_service"

	LeafPresence   = "presence"
	LeafHealth     = "health"
	LeafUpdateTime = "update-time"
	LeafOption     = "option"
	LeafChannel    = "channel"
	LeafSocket     = "socket"
	LeafPeer       = "peer"

	InstanceIndexSpace = "service-instance-index"
	TopologySpace      = "topology"
	EndpointSpace      = "endpoint"
	LinkSpace          = "link"

	// ResourceLock is the distributed-lock key guarding instance-index
	// acquisition.
	ResourceLock = "resource"

	// CommandChannel carries controller-to-instance commands; StateChannel
	// is the optional state broadcast channel.
	CommandChannel = "daqctl"
	StateChannel   = "daqstate"
)

// stateLeafParts spells the per-instance state key suffix.
var stateLeafParts = []string{"fair", "mq", "state"}

// Keys builds registry keys for one separator/prefix configuration.
type Keys struct {
	Separator string
	Prefix    string
}

// New returns a Keys with defaults applied for empty fields.
func New(separator, prefix string) *Keys {
	if separator == "" {
		separator = DefaultSeparator
	}

	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Keys{Separator: separator, Prefix: prefix}
}

func (k *Keys) join(parts ...string) string {
	return strings.Join(parts, k.Separator)
}

// StateLeaf returns the state suffix ("fair:mq:state" with the default
// separator).
func (k *Keys) StateLeaf() string {
	return k.join(stateLeafParts...)
}

func (k *Keys) Presence(service, instanceID string) string {
	return k.join(k.Prefix, service, instanceID, LeafPresence)
}

func (k *Keys) Health(service, instanceID string) string {
	return k.join(k.Prefix, service, instanceID, LeafHealth)
}

func (k *Keys) State(service, instanceID string) string {
	return k.join(k.Prefix, service, instanceID, k.StateLeaf())
}

func (k *Keys) UpdateTime(service, instanceID string) string {
	return k.join(k.Prefix, service, instanceID, LeafUpdateTime)
}

func (k *Keys) Option(service, instanceID string) string {
	return k.join(k.Prefix, service, instanceID, LeafOption)
}

// InstanceIndex returns the hash key mapping instanceIndex to uuid for a
// service.
func (k *Keys) InstanceIndex(service string) string {
	return k.join(k.Prefix, InstanceIndexSpace, service)
}

// Endpoint returns the provisioner-written socket-defaults key of a
// service channel.
func (k *Keys) Endpoint(service, channel string) string {
	return k.join(k.Prefix, TopologySpace, EndpointSpace, service, channel)
}

// Link returns the provisioner-written link key between two service
// channels.
func (k *Keys) Link(serviceA, channelA, serviceB, channelB string) string {
	return k.join(k.Prefix, TopologySpace, LinkSpace, serviceA, channelA+","+serviceB, channelB)
}

// Channel returns the per-instance resolved channel hash key.
func (k *Keys) Channel(service, instanceID, channel string) string {
	return k.join(k.Prefix, service, instanceID, LeafChannel, channel)
}

// ChannelPeer returns the peer-list key of a per-instance channel.
func (k *Keys) ChannelPeer(service, instanceID, channel string) string {
	return k.Channel(service, instanceID, channel) + k.Separator + LeafPeer
}

// Socket returns the per-sub-socket hash key, addressed FairMQ-style as
// chans.<channel>.<idx>.
func (k *Keys) Socket(service, instanceID, channel string, idx int) string {
	return k.join(k.Prefix, service, instanceID, LeafSocket, fmt.Sprintf("chans.%s.%d", channel, idx))
}

// Scan patterns used by the controller and the resolver.

func (k *Keys) PresencePattern(service string) string {
	return k.join(k.Prefix, service, "*", LeafPresence)
}

func (k *Keys) StatePattern(service, instance string) string {
	return k.join(k.Prefix, service, instance, k.StateLeaf())
}

func (k *Keys) UpdateTimePattern() string {
	return k.join(k.Prefix, "*", "*", LeafUpdateTime)
}

func (k *Keys) EndpointPattern(service string) string {
	return k.join(k.Prefix, TopologySpace, EndpointSpace, service, "*")
}

func (k *Keys) LinkPattern() string {
	return k.join(k.Prefix, TopologySpace, LinkSpace, "*")
}

func (k *Keys) ChannelPattern(service, instance string) string {
	return k.join(k.Prefix, service, instance, LeafChannel, "*")
}

// SocketPattern matches every sub-socket key of one peer channel.
func (k *Keys) SocketPattern(service, instanceID, channel string) string {
	return k.join(k.Prefix, service, instanceID, LeafSocket, fmt.Sprintf("chans.%s.*", channel))
}

// RunInfo returns a run_info key for the given field.
func (k *Keys) RunInfo(field string) string {
	return k.join("run_info", field)
}

// KeyEventExpiredChannel names the keyspace notification channel for
// expirations in the given db.
func KeyEventExpiredChannel(db int) string {
	return fmt.Sprintf("__keyevent@%d__:expired", db)
}
