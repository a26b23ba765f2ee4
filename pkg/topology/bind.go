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
	"net"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/nestdaq/pkg/redisutil"
)

// binder holds one live bind endpoint so the address stays reserved until
// the device resets.
type binder struct {
	channel  string
	index    int
	listener net.Listener
}

// Bind materializes concrete addresses for every bind channel:
// unspecified sub-sockets take a kernel-assigned port on this host;
// explicit tcp and ipc addresses pass through untouched.
func (r *Resolver) Bind(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range sortedNames(r.bindChannels) {
		sp := r.bindChannels[name]
		addrs := sp.Addresses()

		for i, addr := range addrs {
			// Explicit addresses, wildcard binds included, keep their
			// port; the connect side rewrites wildcards onto our host
			// IP. Only unspecified sub-sockets need a port assigned.
			if addr != AddressUnspecified {
				continue
			}

			ln, err := net.Listen("tcp", net.JoinHostPort(r.identity.HostIP, "0"))
			if err != nil {
				return fmt.Errorf("failed to bind channel %s[%d]: %w", sp.Name, i, err)
			}

			addrs[i] = "tcp://" + ln.Addr().String()
			r.binders = append(r.binders, binder{channel: sp.Name, index: i, listener: ln})
		}

		sp.Address = strings.Join(addrs, ",")
		sp.Bound = true

		r.log.Debug().Str("channel", sp.Name).Str("address", sp.Address).Msg("Channel bound")
	}

	return nil
}

// OnBound runs the Bound-state topology phase: publish bound addresses,
// wait for every peer's bind, resolve connect addresses, and publish the
// resolved connect sockets.
func (r *Resolver) OnBound(ctx context.Context) error {
	if err := r.WriteBindAddress(ctx); err != nil {
		return err
	}

	if r.canceled() {
		return nil
	}

	if err := r.WaitBindAddress(ctx); err != nil {
		return err
	}

	if r.canceled() {
		return nil
	}

	if r.connectConfig != "" {
		if err := r.ConfigConnect(ctx); err != nil {
			return err
		}
	} else {
		if err := r.ResolveConnectAddress(ctx); err != nil {
			return err
		}
	}

	if r.canceled() {
		return nil
	}

	return r.WriteConnectAddress(ctx)
}

// WriteBindAddress publishes one socket hash per bound sub-socket and
// flips the channel's bound flag.
func (r *Resolver) WriteBindAddress(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.bindChannels) == 0 {
		return nil
	}

	for _, name := range sortedNames(r.bindChannels) {
		sp := r.bindChannels[name]

		if err := r.writeSockets(ctx, sp); err != nil {
			return err
		}

		channelKey := r.keys.Channel(r.identity.ServiceName, r.identity.ID(), sp.Name)
		if err := r.client.HSet(ctx, channelKey, "bound", "1").Err(); err != nil {
			return fmt.Errorf("failed to mark channel %q bound: %w", sp.Name, err)
		}
	}

	return nil
}

// WriteConnectAddress publishes the resolved connect sub-sockets.
func (r *Resolver) WriteConnectAddress(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range sortedNames(r.connectChannels) {
		if err := r.writeSockets(ctx, r.connectChannels[name]); err != nil {
			return err
		}
	}

	return nil
}

// writeSockets writes chans.<name>.<idx> hashes for every sub-socket of
// one channel. Callers hold the mutex.
func (r *Resolver) writeSockets(ctx context.Context, sp *SocketProperty) error {
	addrs := sp.Addresses()

	pipe := r.client.TxPipeline()

	for idx, addr := range addrs {
		key := r.keys.Socket(r.identity.ServiceName, r.identity.ID(), sp.Name, idx)

		h := sp.ToHash()
		h["address"] = addr

		pipe.HSet(ctx, key, flatten(h)...)
		pipe.Expire(ctx, key, r.maxTTL)

		r.registeredKeys = append(r.registeredKeys, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish sockets of %q: %w", sp.Name, err)
	}

	return nil
}

// WaitBindAddress blocks until every peer channel this instance connects
// to reports bound=1. Polls once per second; aborts on cancellation.
func (r *Resolver) WaitBindAddress(ctx context.Context) error {
	channels, err := r.peerChannelsToWaitFor(ctx)
	if err != nil {
		return err
	}

	for _, channel := range channels {
		for {
			v, err := r.client.HGet(ctx, channel, "bound").Result()
			if err == nil && truthy(v) {
				break
			}

			r.log.Debug().Str("channel", channel).Msg("Waiting for peer bind")

			if r.canceled() {
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(resolvePollInterval):
			}
		}
	}

	return nil
}

// peerChannelsToWaitFor enumerates the channel hash keys of every live
// peer instance a local connect channel links to.
func (r *Resolver) peerChannelsToWaitFor(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.connectChannels) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)

	var channels []string

	for _, sp := range r.connectChannels {
		for _, link := range r.links {
			var peerService, peerChannel string

			switch {
			case r.identity.ServiceName == link.MyService && sp.Name == link.MyChannel:
				peerService, peerChannel = link.PeerService, link.PeerChannel
			case r.identity.ServiceName == link.PeerService && sp.Name == link.PeerChannel:
				peerService, peerChannel = link.MyService, link.MyChannel
			default:
				continue
			}

			presences, err := redisutil.ScanKeys(ctx, r.client, r.keys.PresencePattern(peerService))
			if err != nil {
				return nil, fmt.Errorf("failed to scan presences of %q: %w", peerService, err)
			}

			for _, presence := range presences {
				ik, err := r.keys.ParseInstanceKey(presence)
				if err != nil {
					continue
				}

				key := r.keys.Channel(ik.Service, ik.InstanceID, peerChannel)
				if !seen[key] {
					seen[key] = true

					channels = append(channels, key)
				}
			}
		}
	}

	return channels, nil
}

func (r *Resolver) closeBinders() {
	for _, b := range r.binders {
		if err := b.listener.Close(); err != nil {
			r.log.Debug().Err(err).Str("channel", b.channel).Int("index", b.index).Msg("Listener close failed")
		}
	}

	r.binders = nil
}

func sortedNames(m map[string]*SocketProperty) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
