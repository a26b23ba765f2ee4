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
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

// ResolveConnectAddress fills in the address of every connect channel by
// interrogating its peers' published sub-sockets. The sub-socket that
// belongs to us is picked by our position in the peer's own peer list:
//
//	(1,1) equal index, or a single peer, takes the peer's only address
//	(1,M) takes the peer's address at our index
//	(N,1) accumulates the peer's address
//	(N,M) accumulates the peer's address at our index
func (r *Resolver) ResolveConnectAddress(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range sortedNames(r.connectChannels) {
		sp := r.connectChannels[name]
		if sp.Address != "" && sp.Address != AddressUnspecified {
			continue
		}

		if err := r.resolveOneConnectChannel(ctx, sp); err != nil {
			return err
		}
	}

	return nil
}

func (r *Resolver) resolveOneConnectChannel(ctx context.Context, sp *SocketProperty) error {
	myChannelKey := r.keys.Channel(r.identity.ServiceName, r.identity.ID(), sp.Name)
	myPeerKey := r.keys.ChannelPeer(r.identity.ServiceName, r.identity.ID(), sp.Name)

	peers, err := r.client.LRange(ctx, myPeerKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read peer list of %q: %w", sp.Name, err)
	}

	r.log.Debug().Str("channel", sp.Name).Int("peers", len(peers)).Msg("Resolving connect addresses")

	var resolved string

	peerIndex := 0
	oneToOne := false

	for _, peer := range peers {
		neighbors, err := r.client.LRange(ctx, peer+r.keys.Separator+keyspace.LeafPeer, 0, -1).Result()
		if err != nil {
			return fmt.Errorf("failed to read neighbor list of %q: %w", peer, err)
		}

		// Our index as seen from the peer decides which fan-out
		// sub-socket is ours.
		myIndex := len(neighbors)

		for i, n := range neighbors {
			if n == myChannelKey {
				myIndex = i
				break
			}
		}

		if oneToOne && myIndex != peerIndex {
			peerIndex++
			continue
		}

		h, err := r.client.HGetAll(ctx, peer).Result()
		if err != nil {
			return fmt.Errorf("failed to read peer channel %q: %w", peer, err)
		}

		peerProp := SocketPropertyFromHash("", h)

		addrs, err := r.readPeerAddress(ctx, peer)
		if err != nil {
			return err
		}

		if len(addrs) == 0 {
			r.log.Warn().Str("peer", peer).Msg("Peer published no sub-socket addresses")

			peerIndex++

			continue
		}

		switch {
		case sp.NumSockets <= 1 && peerProp.NumSockets <= 1:
			oneToOne = true

			if myIndex == peerIndex || len(peers) == 1 {
				resolved = addrs[0]
			}
		case sp.NumSockets <= 1 && peerProp.NumSockets > 1:
			if myIndex < len(addrs) {
				resolved = addrs[myIndex]
			}
		case sp.NumSockets > 1 && peerProp.NumSockets <= 1:
			resolved = appendAddress(resolved, addrs[0])
		default:
			if myIndex < len(addrs) {
				resolved = appendAddress(resolved, addrs[myIndex])
			}
		}

		if oneToOne && resolved != "" {
			break
		}

		peerIndex++
	}

	sp.Address = resolved

	r.log.Debug().Str("channel", sp.Name).Str("address", sp.Address).Msg("Connect channel resolved")

	return nil
}

// readPeerAddress reads every sub-socket address a peer channel has
// published, sorted by sub-socket key, retrying each until it appears or
// the retry budget runs out. Wildcard binds are rewritten onto the peer's
// host IP.
func (r *Resolver) readPeerAddress(ctx context.Context, peerChannelKey string) ([]string, error) {
	instanceKey, channel, ok := r.splitPeerChannelKey(peerChannelKey)
	if !ok {
		return nil, fmt.Errorf("malformed peer channel key %q", peerChannelKey)
	}

	peerIP, err := r.client.HGet(ctx, instanceKey+r.keys.Separator+keyspace.LeafHealth, models.HealthHostIP).Result()
	if err != nil {
		if err != redis.Nil {
			return nil, fmt.Errorf("failed to read peer host ip: %w", err)
		}

		r.log.Warn().Str("peer", instanceKey).Msg("Peer hostIp not found")
	}

	pattern := instanceKey + r.keys.Separator + keyspace.LeafSocket + r.keys.Separator + "chans." + channel + ".*"

	socketKeys, err := redisutil.ScanKeys(ctx, r.client, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan peer sockets: %w", err)
	}

	var out []string

	for _, key := range socketKeys {
		addr, err := r.waitAddress(ctx, key)
		if err != nil {
			return nil, err
		}

		out = append(out, MakeAddress(addr, peerIP))
	}

	return out, nil
}

// waitAddress polls one socket hash for its address field.
func (r *Resolver) waitAddress(ctx context.Context, key string) (string, error) {
	for retry := 0; ; retry++ {
		addr, err := r.client.HGet(ctx, key, "address").Result()
		if err == nil {
			return addr, nil
		}

		if err != redis.Nil {
			return "", fmt.Errorf("failed to read address of %q: %w", key, err)
		}

		r.log.Warn().Str("socket", key).Msg("Address not published yet")

		if r.canceled() || retry >= r.maxRetry {
			return "", nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(resolvePollInterval):
		}
	}
}

// readPeerIP fetches the host IP of the instance owning a peer channel
// key.
func (r *Resolver) readPeerIP(ctx context.Context, peerChannelKey string) (string, error) {
	instanceKey, _, ok := r.splitPeerChannelKey(peerChannelKey)
	if !ok {
		return "", fmt.Errorf("malformed peer channel key %q", peerChannelKey)
	}

	ip, err := r.client.HGet(ctx, instanceKey+r.keys.Separator+keyspace.LeafHealth, models.HealthHostIP).Result()
	if err == redis.Nil {
		return "", nil
	}

	return ip, err
}

// splitPeerChannelKey splits
// <prefix> S <service> S <id> S channel S <name> into the instance key
// prefix and the channel name.
func (r *Resolver) splitPeerChannelKey(key string) (instanceKey, channel string, ok bool) {
	marker := r.keys.Separator + keyspace.LeafChannel + r.keys.Separator

	pos := strings.Index(key, marker)
	if pos < 0 {
		return "", "", false
	}

	return key[:pos], key[pos+len(marker):], true
}

func appendAddress(list, addr string) string {
	if list == "" {
		return addr
	}

	return list + "," + addr
}
