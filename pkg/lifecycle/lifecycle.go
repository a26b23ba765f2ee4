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

// Package lifecycle supervises the cooperating tasks of a DAQ process and
// ties them to process signals.
package lifecycle

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/nestdaq/pkg/logger"
)

// Task is one long-running component loop. It must return when its context
// is cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunTasks runs every task until the first failure, context cancellation,
// or SIGINT/SIGTERM. Context cancellation is a clean shutdown, not an
// error.
func RunTasks(ctx context.Context, log logger.Logger, tasks ...Task) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			log.Debug().Str("task", task.Name).Msg("Task starting")

			err := task.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("task", task.Name).Msg("Task failed")
				return err
			}

			log.Debug().Str("task", task.Name).Msg("Task stopped")

			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// InitLogger builds the process logger from config, falling back to the
// default configuration on nil.
func InitLogger(cfg *logger.Config) (logger.Logger, error) {
	return logger.New(cfg)
}
