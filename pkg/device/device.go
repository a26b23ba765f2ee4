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

// Package device defines the worker-device contract driven by the instance
// agent's state machine, and a constructor registry for device plugins.
package device

import (
	"context"

	"github.com/carverauto/nestdaq/pkg/logger"
)

// Device is the hook set a worker implements. The agent calls each hook on
// the matching lifecycle transition; a hook error fails the transition.
type Device interface {
	Init(ctx context.Context) error
	InitTask(ctx context.Context) error
	Run(ctx context.Context) error
	// ConditionalRun is invoked repeatedly while the device is in the
	// running state; returning false ends the payload loop without a
	// state change.
	ConditionalRun(ctx context.Context) (bool, error)
	Stop(ctx context.Context) error
	ResetTask(ctx context.Context) error
	ResetDevice(ctx context.Context) error
	End(ctx context.Context) error
}

// ChannelConfigurer is implemented by devices that consume the resolved
// channel sub-option strings produced by topology resolution.
type ChannelConfigurer interface {
	ConfigureChannels(opts []string) error
}

// Config carries construction-time parameters into a device plugin.
type Config struct {
	ServiceName string
	InstanceID  string
	Options     map[string]string
	Logger      logger.Logger
}

// Base provides no-op defaults so concrete devices implement only what
// they need.
type Base struct{}

func (Base) Init(context.Context) error { return nil }

func (Base) InitTask(context.Context) error { return nil }

func (Base) Run(context.Context) error { return nil }

func (Base) ConditionalRun(context.Context) (bool, error) { return false, nil }

func (Base) Stop(context.Context) error { return nil }

func (Base) ResetTask(context.Context) error { return nil }

func (Base) ResetDevice(context.Context) error { return nil }

func (Base) End(context.Context) error { return nil }
