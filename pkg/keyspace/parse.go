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

package keyspace

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInstanceKey = errors.New("key is not under an instance subtree")
	ErrNotLinkKey     = errors.New("key is not a topology link entry")
)

// InstanceKey identifies the owner and leaf of a per-instance key.
type InstanceKey struct {
	Service    string
	InstanceID string
	Leaf       string
}

// ParseInstanceKey splits a key of shape
// <prefix> S <service> S <instanceId> S <leaf...> into its parts. The leaf
// keeps its internal separators (e.g. "fair:mq:state").
func (k *Keys) ParseInstanceKey(key string) (*InstanceKey, error) {
	parts := strings.Split(key, k.Separator)
	if len(parts) < 4 || parts[0] != k.Prefix {
		return nil, fmt.Errorf("%w: %q", ErrNotInstanceKey, key)
	}

	// Reserved namespaces sit directly under the prefix.
	switch parts[1] {
	case InstanceIndexSpace, TopologySpace:
		return nil, fmt.Errorf("%w: %q", ErrNotInstanceKey, key)
	}

	return &InstanceKey{
		Service:    parts[1],
		InstanceID: parts[2],
		Leaf:       strings.Join(parts[3:], k.Separator),
	}, nil
}

// IsPresence reports whether the parsed key is a presence key.
func (ik *InstanceKey) IsPresence() bool {
	return ik.Leaf == LeafPresence
}

// ChannelName extracts the channel name from a channel-subtree leaf, or ""
// if the leaf does not belong to the channel subtree.
func (ik *InstanceKey) ChannelName(separator string) string {
	parts := strings.Split(ik.Leaf, separator)
	if len(parts) < 2 || parts[0] != LeafChannel {
		return ""
	}

	return parts[1]
}

// LinkEntry is one provisioner-declared link between two service channels.
type LinkEntry struct {
	ServiceA string
	ChannelA string
	ServiceB string
	ChannelB string
}

// ParseLinkKey splits a key of shape
// <prefix> S topology S link S <svcA> S <chA>,<svcB> S <chB>.
func (k *Keys) ParseLinkKey(key string) (*LinkEntry, error) {
	parts := strings.Split(key, k.Separator)
	if len(parts) != 6 || parts[0] != k.Prefix || parts[1] != TopologySpace || parts[2] != LinkSpace {
		return nil, fmt.Errorf("%w: %q", ErrNotLinkKey, key)
	}

	mid := strings.SplitN(parts[4], ",", 2)
	if len(mid) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrNotLinkKey, key)
	}

	return &LinkEntry{
		ServiceA: parts[3],
		ChannelA: mid[0],
		ServiceB: mid[1],
		ChannelB: parts[5],
	}, nil
}

// Mentions reports whether the link touches the given service.
func (l *LinkEntry) Mentions(service string) bool {
	return l.ServiceA == service || l.ServiceB == service
}

// EndpointChannel extracts the channel name from an endpoint key of shape
// <prefix> S topology S endpoint S <service> S <channel>.
func (k *Keys) EndpointChannel(key string) (service, channel string, ok bool) {
	parts := strings.Split(key, k.Separator)
	if len(parts) != 5 || parts[0] != k.Prefix || parts[1] != TopologySpace || parts[2] != EndpointSpace {
		return "", "", false
	}

	return parts[3], parts[4], true
}

// InstanceFromPresence extracts the owner of a presence key, typically on
// receipt of an expiry notification.
func (k *Keys) InstanceFromPresence(key string) (service, instanceID string, ok bool) {
	ik, err := k.ParseInstanceKey(key)
	if err != nil || !ik.IsPresence() {
		return "", "", false
	}

	return ik.Service, ik.InstanceID, true
}
