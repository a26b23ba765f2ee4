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
	"strconv"
	"time"

	"github.com/carverauto/nestdaq/pkg/logger"
)

func init() {
	Register("sampler", NewSampler)
}

// Sampler emits numbered payloads at a fixed cadence while running. The
// "max-iterations" option bounds the payload loop; 0 runs until stopped.
type Sampler struct {
	Base

	log      logger.Logger
	interval time.Duration
	maxIters uint64
	produced uint64
	channels []string
}

// NewSampler builds a sampler from its registered options.
func NewSampler(cfg Config) Device {
	interval := time.Second
	if raw, ok := cfg.Options["sampling-interval-ms"]; ok {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			interval = time.Duration(ms) * time.Millisecond
		}
	}

	var maxIters uint64
	if raw, ok := cfg.Options["max-iterations"]; ok {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			maxIters = n
		}
	}

	return &Sampler{
		log:      cfg.Logger.WithComponent("sampler"),
		interval: interval,
		maxIters: maxIters,
	}
}

func (s *Sampler) ConfigureChannels(opts []string) error {
	s.channels = opts
	return nil
}

func (s *Sampler) Init(_ context.Context) error {
	s.produced = 0

	s.log.Info().Int("channels", len(s.channels)).Msg("Sampler initialized")

	return nil
}

func (s *Sampler) Run(_ context.Context) error {
	s.log.Info().Msg("Sampler run started")
	return nil
}

func (s *Sampler) ConditionalRun(ctx context.Context) (bool, error) {
	if s.maxIters != 0 && s.produced >= s.maxIters {
		s.log.Info().Uint64("produced", s.produced).Msg("Sampler reached max iterations")
		return false, nil
	}

	select {
	case <-ctx.Done():
		return false, nil
	case <-time.After(s.interval):
	}

	s.produced++

	s.log.Debug().Uint64("seq", s.produced).Msg("Sampler emitted payload")

	return true, nil
}

func (s *Sampler) Stop(_ context.Context) error {
	s.log.Info().Uint64("produced", s.produced).Msg("Sampler stopped")
	return nil
}
