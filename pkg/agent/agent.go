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

// Package agent implements the per-worker instance agent: identity
// acquisition, liveness refresh, the device state machine, and the
// command subscription that drives it.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/nestdaq/pkg/device"
	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/models"
	"github.com/carverauto/nestdaq/pkg/topology"
)

const (
	defaultMaxTTL            = 5 * time.Second
	defaultTTLUpdateInterval = 3 * time.Second
	shutdownGrace            = 30 * time.Second
	commandQueueDepth        = 16
)

var errNoInstanceIndex = errors.New("unable to acquire an instance index")

// Config parameterizes an instance agent.
type Config struct {
	ServiceName string `json:"service_name"`
	UUID        string `json:"uuid"`
	HostName    string `json:"hostname"`
	HostIP      string `json:"host_ip"`

	Separator string `json:"separator"`
	TopPrefix string `json:"top_prefix"`

	MaxTTL            time.Duration `json:"-"`
	TTLUpdateInterval time.Duration `json:"-"`

	StartupState  string `json:"startup_state"`
	EnableUDS     bool   `json:"enable_uds"`
	ConnectConfig string `json:"connect_config"`

	MaxRetryToResolveAddress int `json:"max_retry_to_resolve_address"`

	// Options is published as the instance's option hash and handed to
	// the device plugin.
	Options map[string]string `json:"options"`
}

// SetDefaults fills the liveness and identity defaults.
func (c *Config) SetDefaults() {
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}

	if c.HostName == "" {
		c.HostName, _ = os.Hostname()
	}

	if c.MaxTTL <= 0 {
		c.MaxTTL = defaultMaxTTL
	}

	if c.TTLUpdateInterval <= 0 || c.TTLUpdateInterval >= c.MaxTTL {
		c.TTLUpdateInterval = defaultTTLUpdateInterval
	}
}

// Validate checks the parts that have no sensible default.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name must not be empty")
	}

	return nil
}

// Agent drives one worker instance.
type Agent struct {
	cfg    Config
	client *redis.Client
	keys   *keyspace.Keys
	log    logger.Logger

	dev      device.Device
	identity *models.Identity
	resolver *topology.Resolver

	createdAt time.Time

	mu    sync.Mutex
	state models.State

	commands chan string

	resetRequested    atomic.Bool
	shutdownRequested atomic.Bool

	registeredKeys   map[string]bool
	registeredHashes map[string]string

	runLoop *runLoop

	// HealthSampler, when set, contributes extra health-hash fields on
	// every liveness tick.
	HealthSampler func(ctx context.Context) map[string]string
}

// New builds an agent over an established registry client and a device
// plugin instance.
func New(client *redis.Client, dev device.Device, cfg Config, log logger.Logger) *Agent {
	cfg.SetDefaults()

	identity := &models.Identity{
		UUID:        cfg.UUID,
		ServiceName: cfg.ServiceName,
		HostName:    cfg.HostName,
		HostIP:      cfg.HostIP,
		PID:         os.Getpid(),
		Index:       -1,
	}

	return &Agent{
		cfg:              cfg,
		client:           client,
		keys:             keyspace.New(cfg.Separator, cfg.TopPrefix),
		log:              log.WithComponent("agent"),
		dev:              dev,
		identity:         identity,
		createdAt:        time.Now(),
		state:            models.StateIdle,
		commands:         make(chan string, commandQueueDepth),
		registeredKeys:   make(map[string]bool),
		registeredHashes: make(map[string]string),
	}
}

// Identity returns the agent's identity; the instance index is valid only
// after Run has registered.
func (a *Agent) Identity() *models.Identity {
	return a.identity
}

// State returns the current device state.
func (a *Agent) State() models.State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// Run registers the instance and runs the agent's three tasks until a
// terminal command, a fatal error, or context cancellation. It always
// attempts the shutdown walk and key cleanup on the way out.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	a.initResolver(ctx)

	a.log.Info().
		Str("service", a.identity.ServiceName).
		Str("instance", a.identity.ID()).
		Str("uuid", a.identity.UUID).
		Msg("Instance registered")

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, taskCtx := errgroup.WithContext(taskCtx)

	g.Go(func() error { return a.livenessLoop(taskCtx) })
	g.Go(func() error { return a.subscribeLoop(taskCtx) })
	g.Go(func() error {
		defer cancel()

		a.stateControlLoop(taskCtx)

		return nil
	})

	err := g.Wait()

	// Shutdown and cleanup run on a fresh context: the task context is
	// typically already canceled here.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cleanupCancel()

	a.runShutdownSequence(cleanupCtx)
	a.unregister(cleanupCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// initResolver builds the topology resolver once the identity is known.
func (a *Agent) initResolver(ctx context.Context) {
	a.resolver = topology.New(a.client, topology.Config{
		Identity:      a.identity,
		Keys:          a.keys,
		MaxTTL:        a.cfg.MaxTTL,
		EnableUDS:     a.cfg.EnableUDS,
		ConnectConfig: a.cfg.ConnectConfig,
		MaxRetry:      a.cfg.MaxRetryToResolveAddress,
		Canceled: func() bool {
			return a.resetRequested.Load() || a.shutdownRequested.Load() || ctx.Err() != nil
		},
	}, a.log)
}

// stateControlLoop walks to the startup state, then serves commands until
// shutdown is requested.
func (a *Agent) stateControlLoop(ctx context.Context) {
	a.runStartupSequence(ctx)

	if a.shutdownRequested.Load() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case value := <-a.commands:
			a.dispatch(ctx, value)

			if a.shutdownRequested.Load() {
				return
			}
		}
	}
}

// dispatch expands one wire command value and executes the resulting
// transitions. Unknown values and inapplicable commands are no-ops.
func (a *Agent) dispatch(ctx context.Context, value string) {
	transition, terminal, ok := models.ParseTransition(value)
	if !ok {
		a.log.Error().Str("value", value).Msg("Unknown command value")
		return
	}

	steps := Expand(a.State(), transition)

	for _, step := range steps {
		if step == models.TransitionResetDevice {
			a.resetRequested.Store(true)
		}

		if err := a.executeTransition(ctx, step); err != nil {
			break
		}

		if ctx.Err() != nil {
			break
		}

		// A reset request short-circuits a forward expansion.
		if a.resetRequested.Load() && forwardTarget(step) >= 0 {
			break
		}
	}

	if terminal {
		a.shutdownRequested.Store(true)
	}
}

// executeTransition performs one legal edge of the state graph: publish
// the transient state, run the topology and device hooks, publish the end
// state. A hook failure drives the agent into Error.
func (a *Agent) executeTransition(ctx context.Context, t models.Transition) error {
	from := a.State()

	to, ok := NextState(from, t)
	if !ok {
		return nil
	}

	if transient, hasTransient := transientStates[t]; hasTransient {
		a.setState(ctx, transient)
	}

	if err := a.runTransitionHooks(ctx, t); err != nil {
		a.log.Error().Err(err).Str("transition", string(t)).Msg("Transition failed")
		a.enterError(ctx)

		return err
	}

	a.setState(ctx, to)

	switch to {
	case models.StateIdle:
		a.resetRequested.Store(false)
	case models.StateRunning:
		a.writeRunTimestamp(ctx, models.HealthStartTime, models.HealthStartTimeNs)
		a.startRunLoop(ctx)
	}

	return nil
}

// runTransitionHooks invokes the topology phases and device hooks bound
// to one transition.
func (a *Agent) runTransitionHooks(ctx context.Context, t models.Transition) error {
	switch t {
	case models.TransitionInitDevice:
		opts, err := a.resolver.Initialize(ctx)
		if err != nil {
			return err
		}

		if configurer, ok := a.dev.(device.ChannelConfigurer); ok {
			if err := configurer.ConfigureChannels(opts); err != nil {
				return err
			}
		}

		return a.dev.Init(ctx)

	case models.TransitionBind:
		if err := a.resolver.Bind(ctx); err != nil {
			return err
		}

		// The Bound-phase exchange (publish bound addresses, wait for
		// peers, resolve connect addresses) runs before the state
		// settles so Connect sees a complete picture.
		return a.resolver.OnBound(ctx)

	case models.TransitionConnect:
		// Transport connects are the device layer's concern; the
		// addresses were resolved during the Bound phase.
		return nil

	case models.TransitionInitTask:
		return a.dev.InitTask(ctx)

	case models.TransitionStop:
		a.stopRunLoop()
		err := a.dev.Stop(ctx)
		a.writeRunTimestamp(ctx, models.HealthStopTime, models.HealthStopTimeNs)

		return err

	case models.TransitionResetTask:
		return a.dev.ResetTask(ctx)

	case models.TransitionResetDevice:
		a.resolver.Reset(ctx)
		return a.dev.ResetDevice(ctx)

	case models.TransitionEnd:
		return a.dev.End(ctx)
	}

	return nil
}

// enterError publishes the Error state and requests shutdown.
func (a *Agent) enterError(ctx context.Context) {
	a.setState(ctx, models.StateError)
	a.shutdownRequested.Store(true)
}

// setState publishes a state change: the TTL'd state key, the health-hash
// mirror, and the optional state broadcast channel.
func (a *Agent) setState(ctx context.Context, s models.State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()

	a.log.Info().Str("state", string(s)).Msg("State changed")

	stateKey := a.keys.State(a.identity.ServiceName, a.identity.ID())

	pipe := a.client.TxPipeline()
	pipe.SetEx(ctx, stateKey, string(s), a.cfg.MaxTTL)
	pipe.HSet(ctx, a.keys.Health(a.identity.ServiceName, a.identity.ID()), a.keys.StateLeaf(), string(s))

	if _, err := pipe.Exec(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Failed to publish state")
	}

	payload, _ := json.Marshal(map[string]string{
		"value":    string(s),
		"service":  a.identity.ServiceName,
		"instance": a.identity.ID(),
	})

	if err := a.client.Publish(ctx, keyspace.StateChannel, payload).Err(); err != nil {
		a.log.Debug().Err(err).Msg("State broadcast failed")
	}
}

// writeRunTimestamp records a wall-clock date and a monotonic-ns uptime
// pair into the health hash.
func (a *Agent) writeRunTimestamp(ctx context.Context, dateField, nsField string) {
	now := time.Now()
	uptime := now.Sub(a.createdAt)

	err := a.client.HSet(ctx, a.keys.Health(a.identity.ServiceName, a.identity.ID()),
		dateField, now.Format(time.RFC3339),
		nsField, fmt.Sprintf("%d", uptime.Nanoseconds()),
	).Err()
	if err != nil {
		a.log.Warn().Err(err).Str("field", dateField).Msg("Failed to write run timestamp")
	}
}

// runLoop drives the device payload loop while the state is Running.
type runLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *Agent) startRunLoop(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	rl := &runLoop{cancel: cancel, done: make(chan struct{})}
	a.runLoop = rl

	go func() {
		defer close(rl.done)

		if err := a.dev.Run(loopCtx); err != nil {
			a.log.Error().Err(err).Msg("Device run hook failed")
			return
		}

		for {
			if loopCtx.Err() != nil {
				return
			}

			again, err := a.dev.ConditionalRun(loopCtx)
			if err != nil {
				a.log.Error().Err(err).Msg("Device payload loop failed")
				return
			}

			if !again {
				return
			}
		}
	}()
}

func (a *Agent) stopRunLoop() {
	if a.runLoop == nil {
		return
	}

	a.runLoop.cancel()
	<-a.runLoop.done
	a.runLoop = nil
}
