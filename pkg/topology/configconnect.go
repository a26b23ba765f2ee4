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
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

// ConnectChannelConfig declares the symbolic peers of one connect channel
// in the connect-config JSON document.
type ConnectChannelConfig struct {
	Peer           StringList `json:"peer"`
	Type           string     `json:"type,omitempty"`
	Transport      string     `json:"transport,omitempty"`
	SndBufSize     int        `json:"sndBufSize,omitempty"`
	RcvBufSize     int        `json:"rcvBufSize,omitempty"`
	NumSockets     int        `json:"numSockets,omitempty"`
	AutoSubChannel bool       `json:"autoSubChannel,omitempty"`
}

// StringList accepts either a JSON string or an array of strings.
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}

	*s = StringList(many)

	return nil
}

// PeerRef is a parsed symbolic peer expression.
type PeerRef struct {
	Service    string
	InstanceID string
	Channel    string
	// SubIndex is the explicit sub-socket index; HasSubIndex false means
	// "all sub-sockets" for autoSubChannel channels and index 0
	// otherwise.
	SubIndex    int
	HasSubIndex bool
}

// ParsePeerRef parses a symbolic peer expression against the grammar
//
//	<service> S <instance>-<idx> S <channel>[<sub>]?
//	<instance>-<idx> S <channel>[<sub>]?
//	<service> S <channel>[<sub>]?
//
// Missing parts default to instance = service and index 0.
func ParsePeerRef(expr, separator string) (*PeerRef, error) {
	sep := regexp.QuoteMeta(separator)
	nSeps := strings.Count(expr, separator)
	hasSub := strings.Contains(expr, "[")

	switch nSeps {
	case 2:
		if hasSub {
			re := regexp.MustCompile(`^(\w+)` + sep + `(\w+)-(\d+)` + sep + `(\w+)\[(\d+)\]$`)
			if m := re.FindStringSubmatch(expr); m != nil {
				sub, _ := strconv.Atoi(m[5])
				return &PeerRef{Service: m[1], InstanceID: m[2] + "-" + m[3], Channel: m[4], SubIndex: sub, HasSubIndex: true}, nil
			}
		} else {
			re := regexp.MustCompile(`^(\w+)` + sep + `(\w+)-(\d+)` + sep + `(\w+)$`)
			if m := re.FindStringSubmatch(expr); m != nil {
				return &PeerRef{Service: m[1], InstanceID: m[2] + "-" + m[3], Channel: m[4]}, nil
			}
		}
	case 1:
		if hasSub {
			re := regexp.MustCompile(`^(\w+)-(\d+)` + sep + `(\w+)\[(\d+)\]$`)
			if m := re.FindStringSubmatch(expr); m != nil {
				sub, _ := strconv.Atoi(m[4])
				return &PeerRef{Service: m[1], InstanceID: m[1] + "-" + m[2], Channel: m[3], SubIndex: sub, HasSubIndex: true}, nil
			}

			re = regexp.MustCompile(`^(\w+)` + sep + `(\w+)\[(\d+)\]$`)
			if m := re.FindStringSubmatch(expr); m != nil {
				sub, _ := strconv.Atoi(m[3])
				return &PeerRef{Service: m[1], InstanceID: m[1] + "-0", Channel: m[2], SubIndex: sub, HasSubIndex: true}, nil
			}
		} else {
			re := regexp.MustCompile(`^(\w+)-(\d+)` + sep + `(\w+)$`)
			if m := re.FindStringSubmatch(expr); m != nil {
				return &PeerRef{Service: m[1], InstanceID: m[1] + "-" + m[2], Channel: m[3]}, nil
			}

			re = regexp.MustCompile(`^(\w+)` + sep + `(\w+)$`)
			if m := re.FindStringSubmatch(expr); m != nil {
				return &PeerRef{Service: m[1], InstanceID: m[1] + "-0", Channel: m[2]}, nil
			}
		}
	}

	return nil, fmt.Errorf("peer expression %q does not match the grammar", expr)
}

// seedConnectChannelsFromConfig pre-populates connect channels declared in
// the connect-config document. Callers hold the mutex.
func (r *Resolver) seedConnectChannelsFromConfig() error {
	cfg, err := parseConnectConfig(r.connectConfig)
	if err != nil {
		return err
	}

	for name, cc := range cfg {
		sp := NewSocketProperty(name)
		sp.Method = "connect"
		sp.Type = cc.Type

		if cc.Transport != "" {
			sp.Transport = cc.Transport
		}

		if cc.SndBufSize > 0 {
			sp.SndBufSize = cc.SndBufSize
		}

		if cc.RcvBufSize > 0 {
			sp.RcvBufSize = cc.RcvBufSize
		}

		sp.NumSockets = cc.NumSockets
		sp.AutoSubChannel = cc.AutoSubChannel

		r.connectChannels[name] = sp
	}

	return nil
}

func parseConnectConfig(raw string) (map[string]*ConnectChannelConfig, error) {
	cfg := make(map[string]*ConnectChannelConfig)
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse connect-config: %w", err)
	}

	return cfg, nil
}

// ConfigConnect resolves the explicitly declared symbolic peers of every
// connect channel into concrete addresses.
func (r *Resolver) ConfigConnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, err := parseConnectConfig(r.connectConfig)
	if err != nil {
		return err
	}

	for _, name := range sortedNames(r.connectChannels) {
		cc, ok := cfg[name]
		if !ok {
			continue
		}

		sp := r.connectChannels[name]

		var addresses []string

		for _, expr := range cc.Peer {
			ref, err := ParsePeerRef(expr, r.keys.Separator)
			if err != nil {
				r.log.Warn().Err(err).Str("channel", name).Msg("Skipping unparsable peer expression")
				continue
			}

			switch {
			case ref.HasSubIndex:
				addr, err := r.findAddress(ctx, ref.Service, ref.InstanceID, ref.Channel, ref.SubIndex)
				if err != nil {
					return err
				}

				if addr != "" {
					addresses = append(addresses, addr)
				}
			case !sp.AutoSubChannel:
				addr, err := r.findAddress(ctx, ref.Service, ref.InstanceID, ref.Channel, 0)
				if err != nil {
					return err
				}

				if addr != "" {
					addresses = append(addresses, addr)
				}
			default:
				many, err := r.findAddresses(ctx, ref.Service, ref.InstanceID, ref.Channel)
				if err != nil {
					return err
				}

				addresses = append(addresses, many...)
			}
		}

		for _, addr := range addresses {
			sp.Address = appendAddress(sp.Address, addr)
		}

		r.log.Debug().Str("channel", name).Str("address", sp.Address).Msg("Connect-config channel resolved")
	}

	return nil
}

// findAddress resolves one concrete peer sub-socket address.
func (r *Resolver) findAddress(ctx context.Context, service, instanceID, channel string, subIndex int) (string, error) {
	peerIP, err := r.instanceHostIP(ctx, service, instanceID)
	if err != nil || peerIP == "" {
		return "", err
	}

	key := r.keys.Socket(service, instanceID, channel, subIndex)

	addr, err := r.waitAddress(ctx, key)
	if err != nil || addr == "" {
		return "", err
	}

	return MakeAddress(addr, peerIP), nil
}

// findAddresses resolves every published sub-socket of a peer channel.
func (r *Resolver) findAddresses(ctx context.Context, service, instanceID, channel string) ([]string, error) {
	peerIP, err := r.instanceHostIP(ctx, service, instanceID)
	if err != nil || peerIP == "" {
		return nil, err
	}

	socketKeys, err := redisutil.ScanKeys(ctx, r.client, r.keys.SocketPattern(service, instanceID, channel))
	if err != nil {
		return nil, fmt.Errorf("failed to scan sockets of %s:%s: %w", instanceID, channel, err)
	}

	var out []string

	for _, key := range socketKeys {
		addr, err := r.waitAddress(ctx, key)
		if err != nil {
			return nil, err
		}

		if addr != "" {
			out = append(out, MakeAddress(addr, peerIP))
		}
	}

	return out, nil
}

func (r *Resolver) instanceHostIP(ctx context.Context, service, instanceID string) (string, error) {
	ip, err := r.client.HGet(ctx, r.keys.Health(service, instanceID), models.HealthHostIP).Result()
	if err != nil {
		r.log.Warn().Str("instance", service+r.keys.Separator+instanceID).Msg("Peer hostIp not found")
		return "", nil
	}

	return ip, nil
}
