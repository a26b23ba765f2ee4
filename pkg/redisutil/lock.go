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

package redisutil

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	lockExpiry     = 8 * time.Second
	lockTries      = 32
	lockRetryDelay = 250 * time.Millisecond
)

// Locker hands out RedLock-compatible mutexes on the shared registry.
type Locker struct {
	rs *redsync.Redsync
}

// NewLocker builds a Locker over a single registry client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(client))}
}

// Acquire takes the named distributed lock with bounded retry. The caller
// must call the returned release function.
func (l *Locker) Acquire(ctx context.Context, name string) (release func() error, err error) {
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(lockExpiry),
		redsync.WithTries(lockTries),
		redsync.WithRetryDelay(lockRetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}

	return func() error {
		_, err := mutex.UnlockContext(ctx)
		return err
	}, nil
}
