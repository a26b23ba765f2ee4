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

// Package redisutil wraps construction of the shared registry client and
// the distributed-lock and scan helpers built on top of it.
package redisutil

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	defaultConnectTimeout = 30 * time.Second
)

// NewClient builds a registry client from a URI of shape
// <scheme>://<host>:<port>/<db?> (db defaults to 0).
func NewClient(uri string) (*redis.Client, int, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse registry uri %q: %w", uri, err)
	}

	return redis.NewClient(opts), opts.DB, nil
}

// Connect pings the registry with exponential backoff until it answers or
// the deadline passes. Used at process startup only; steady-state errors
// are handled per-operation.
func Connect(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	return backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, bo)
}

// EnableExpiryNotifications turns on keyspace expired-event publishing.
// Redis ships with notifications disabled; the controller needs "Ex".
func EnableExpiryNotifications(ctx context.Context, client *redis.Client) error {
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		return fmt.Errorf("failed to enable keyspace notifications: %w", err)
	}

	return nil
}
