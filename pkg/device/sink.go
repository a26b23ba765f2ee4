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

package device

import (
	"context"
	"time"

	"github.com/carverauto/nestdaq/pkg/logger"
)

func init() {
	Register("sink", NewSink)
	Register("null", NewNullDevice)
}

// Sink drains payloads while running and reports the received count on
// stop.
type Sink struct {
	Base

	log      logger.Logger
	received uint64
	channels []string
}

func NewSink(cfg Config) Device {
	return &Sink{log: cfg.Logger.WithComponent("sink")}
}

func (s *Sink) ConfigureChannels(opts []string) error {
	s.channels = opts
	return nil
}

func (s *Sink) Init(_ context.Context) error {
	s.received = 0
	return nil
}

func (s *Sink) ConditionalRun(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, nil
	case <-time.After(100 * time.Millisecond):
	}

	s.received++

	return true, nil
}

func (s *Sink) Stop(_ context.Context) error {
	s.log.Info().Uint64("received", s.received).Msg("Sink stopped")
	return nil
}

// NullDevice accepts every transition and does nothing.
type NullDevice struct {
	Base
}

func NewNullDevice(Config) Device {
	return &NullDevice{}
}
