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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

const (
	defaultMaxRetryToResolveAddress = 600
	resolvePollInterval             = time.Second
)

// Config parameterizes a Resolver.
type Config struct {
	Identity  *models.Identity
	Keys      *keyspace.Keys
	MaxTTL    time.Duration
	EnableUDS bool
	// ConnectConfig is the optional JSON declaration of symbolic connect
	// peers; when present it replaces peer-list matchmaking.
	ConnectConfig string
	// MaxRetry bounds every per-address lookup; zero uses the default.
	MaxRetry int
	// Canceled is polled inside waits so transition aborts break out.
	Canceled func() bool
}

// Resolver carries the channel catalog of one instance through the
// topology phases.
type Resolver struct {
	client *redis.Client
	keys   *keyspace.Keys
	log    logger.Logger

	identity  *models.Identity
	maxTTL    time.Duration
	enableUDS bool
	maxRetry  int
	canceled  func() bool

	connectConfig string

	mu              sync.Mutex
	bindChannels    map[string]*SocketProperty
	connectChannels map[string]*SocketProperty
	links           map[string]*LinkProperty
	registeredKeys  []string
	binders         []binder
}

// New builds a resolver. The cancellation hook may be nil.
func New(client *redis.Client, cfg Config, log logger.Logger) *Resolver {
	canceled := cfg.Canceled
	if canceled == nil {
		canceled = func() bool { return false }
	}

	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetryToResolveAddress
	}

	return &Resolver{
		client:          client,
		keys:            cfg.Keys,
		log:             log.WithComponent("topology"),
		identity:        cfg.Identity,
		maxTTL:          cfg.MaxTTL,
		enableUDS:       cfg.EnableUDS,
		maxRetry:        maxRetry,
		canceled:        canceled,
		connectConfig:   cfg.ConnectConfig,
		bindChannels:    make(map[string]*SocketProperty),
		connectChannels: make(map[string]*SocketProperty),
		links:           make(map[string]*LinkProperty),
	}
}

// Initialize runs on entry to InitializingDevice: it builds the channel
// catalog from the provisioned endpoint and link entries, counts expected
// peers, synthesizes UDS addresses where possible, publishes the catalog,
// and returns the channel-config sub-option strings for the device.
func (r *Resolver) Initialize(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.connectConfig != "" {
		if err := r.seedConnectChannelsFromConfig(); err != nil {
			r.log.Error().Err(err).Msg("Failed to parse connect-config")
		}
	}

	if err := r.readEndpoints(ctx); err != nil {
		return nil, err
	}

	if err := r.readLinks(ctx); err != nil {
		return nil, err
	}

	channels := r.sortedChannels()

	r.log.Debug().
		Int("bind", len(r.bindChannels)).
		Int("connect", len(r.connectChannels)).
		Msg("Channel catalog assembled")

	var opts []string

	for _, sp := range channels {
		peers, err := r.expectedPeers(ctx, sp)
		if err != nil {
			return nil, err
		}

		if r.enableUDS && sp.Method == "bind" && sp.Transport == "zeromq" {
			if ok, err := r.isUdsAvailable(ctx, peers); err == nil && ok {
				r.synthesizeUdsAddresses(sp)
			}
		}

		opts = append(opts, sp.ToChannelConfig())

		if err := r.writeChannel(ctx, sp, peers); err != nil {
			return nil, err
		}
	}

	return opts, nil
}

// readEndpoints constructs SocketProperties from the provisioned endpoint
// hashes of this service.
func (r *Resolver) readEndpoints(ctx context.Context) error {
	keys, err := redisutil.ScanKeys(ctx, r.client, r.keys.EndpointPattern(r.identity.ServiceName))
	if err != nil {
		return fmt.Errorf("failed to scan endpoints: %w", err)
	}

	if len(keys) == 0 {
		r.log.Warn().Str("service", r.identity.ServiceName).Msg("No endpoint entries")
	}

	for _, key := range keys {
		_, channel, ok := r.keys.EndpointChannel(key)
		if !ok {
			continue
		}

		h, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read endpoint %q: %w", key, err)
		}

		sp := SocketPropertyFromHash(channel, h)

		switch sp.Method {
		case "bind":
			r.bindChannels[sp.Name] = sp
		case "connect":
			if _, exists := r.connectChannels[sp.Name]; !exists {
				r.connectChannels[sp.Name] = sp
			}
		default:
			r.log.Error().Str("channel", sp.Name).Str("method", sp.Method).Msg("Unknown channel method")
		}
	}

	return nil
}

// readLinks loads every link mentioning this service, normalized so My*
// refers to this service. Duplicate declarations merge their options.
func (r *Resolver) readLinks(ctx context.Context) error {
	keys, err := redisutil.ScanKeys(ctx, r.client, r.keys.LinkPattern())
	if err != nil {
		return fmt.Errorf("failed to scan links: %w", err)
	}

	for _, key := range keys {
		entry, err := r.keys.ParseLinkKey(key)
		if err != nil || !entry.Mentions(r.identity.ServiceName) {
			continue
		}

		options, err := r.client.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read link %q: %w", key, err)
		}

		lp := &LinkProperty{Options: options}
		if entry.ServiceA == r.identity.ServiceName {
			lp.MyService, lp.MyChannel = entry.ServiceA, entry.ChannelA
			lp.PeerService, lp.PeerChannel = entry.ServiceB, entry.ChannelB
		} else {
			lp.MyService, lp.MyChannel = entry.ServiceB, entry.ChannelB
			lp.PeerService, lp.PeerChannel = entry.ServiceA, entry.ChannelA
		}

		pair := lp.Key(r.keys.Separator)
		if existing, ok := r.links[pair]; ok {
			existing.Options += "," + lp.Options
		} else {
			r.links[pair] = lp
		}
	}

	if len(r.links) == 0 {
		r.log.Warn().Str("service", r.identity.ServiceName).Msg("No link entries")
	}

	return nil
}

// expectedPeers computes the peer channel keys of one local channel by
// scanning live presences of every linked peer service. With
// autoSubChannel the sub-socket count grows one per peer.
func (r *Resolver) expectedPeers(ctx context.Context, sp *SocketProperty) ([]string, error) {
	var peers []string

	for _, link := range r.links {
		if link.MyService != link.PeerService && link.MyChannel != sp.Name {
			continue
		}

		useNear := link.MyService == link.PeerService && link.PeerChannel == sp.Name

		peerService := link.PeerService
		peerChannel := link.PeerChannel

		if useNear {
			peerService = link.MyService
			peerChannel = link.MyChannel
		}

		presences, err := redisutil.ScanKeys(ctx, r.client, r.keys.PresencePattern(peerService))
		if err != nil {
			return nil, fmt.Errorf("failed to scan peer presences: %w", err)
		}

		for _, presence := range presences {
			ik, err := r.keys.ParseInstanceKey(presence)
			if err != nil {
				continue
			}

			peers = append(peers, r.keys.Channel(ik.Service, ik.InstanceID, peerChannel))
		}

		if sp.AutoSubChannel {
			sp.NumSockets += len(presences)
		}
	}

	sort.Strings(peers)
	peers = dedupe(peers)

	return peers, nil
}

// isUdsAvailable reports whether every peer shares this host's IP.
func (r *Resolver) isUdsAvailable(ctx context.Context, peers []string) (bool, error) {
	for _, peer := range peers {
		ip, err := r.readPeerIP(ctx, peer)
		if err != nil {
			return false, err
		}

		if ip != r.identity.HostIP {
			return false, nil
		}
	}

	return true, nil
}

// synthesizeUdsAddresses rewrites the channel onto abstract unix-domain
// sockets, one per sub-socket.
func (r *Resolver) synthesizeUdsAddresses(sp *SocketProperty) {
	n := sp.NumSockets
	if n < 1 {
		n = 1
	}

	addrs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		addrs = append(addrs, fmt.Sprintf("ipc://@/tmp/nestdaq/%s/%s/%s[%d]",
			r.identity.ServiceName, r.identity.ID(), sp.Name, i))
	}

	sp.Address = strings.Join(addrs, ",")
}

// writeChannel publishes the channel hash and its peer list. Channels
// without peers stay local and are not published.
func (r *Resolver) writeChannel(ctx context.Context, sp *SocketProperty, peers []string) error {
	if len(peers) == 0 {
		return nil
	}

	key := r.keys.Channel(r.identity.ServiceName, r.identity.ID(), sp.Name)
	listKey := r.keys.ChannelPeer(r.identity.ServiceName, r.identity.ID(), sp.Name)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, flatten(sp.ToHash())...)
	pipe.Expire(ctx, key, r.maxTTL)

	peerValues := make([]interface{}, len(peers))
	for i, p := range peers {
		peerValues[i] = p
	}

	pipe.RPush(ctx, listKey, peerValues...)
	pipe.Expire(ctx, listKey, r.maxTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish channel %q: %w", sp.Name, err)
	}

	r.registeredKeys = append(r.registeredKeys, key, listKey)

	return nil
}

// sortedChannels returns bind channels then connect channels, each in
// name order, for deterministic iteration.
func (r *Resolver) sortedChannels() []*SocketProperty {
	var out []*SocketProperty

	for _, m := range []map[string]*SocketProperty{r.bindChannels, r.connectChannels} {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}

		sort.Strings(names)

		for _, name := range names {
			out = append(out, m[name])
		}
	}

	return out
}

// RegisteredKeys snapshots every key the resolver owns, for liveness TTL
// extension.
func (r *Resolver) RegisteredKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.registeredKeys))
	copy(out, r.registeredKeys)

	return out
}

// Reset runs on entry to ResettingDevice: every registered key is
// deleted and the cached channel maps are dropped.
func (r *Resolver) Reset(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeBinders()

	if len(r.registeredKeys) > 0 {
		if err := r.client.Del(ctx, r.registeredKeys...).Err(); err != nil {
			r.log.Error().Err(err).Msg("Failed to delete registered topology keys")
		}

		r.registeredKeys = nil
	}

	r.bindChannels = make(map[string]*SocketProperty)
	r.connectChannels = make(map[string]*SocketProperty)
	r.links = make(map[string]*LinkProperty)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]

	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}

	return out
}

func flatten(h map[string]string) []interface{} {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]interface{}, 0, 2*len(h))
	for _, k := range keys {
		out = append(out, k, h[k])
	}

	return out
}
