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
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientParsesDB(t *testing.T) {
	client, db, err := NewClient("redis://127.0.0.1:6379/2")
	require.NoError(t, err)
	defer client.Close()
	assert.Equal(t, 2, db)

	client2, db, err := NewClient("redis://127.0.0.1:6379")
	require.NoError(t, err)
	defer client2.Close()
	assert.Equal(t, 0, db)

	_, _, err = NewClient("://bogus")
	assert.Error(t, err)
}

func TestScanKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	for i := 0; i < 250; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("daq_service:Foo:Foo-%d:presence", i), "u"))
	}

	require.NoError(t, mr.Set("daq_service:Bar:Bar-0:presence", "u"))

	keys, err := ScanKeys(ctx, client, "daq_service:Foo:*:presence")
	require.NoError(t, err)
	assert.Len(t, keys, 250)
	// Sorted for deterministic iteration.
	assert.Equal(t, "daq_service:Foo:Foo-0:presence", keys[0])
}

func TestMGetStrings(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, mr.Set("a", "1"))
	require.NoError(t, mr.Set("c", "3"))

	values, present, err := MGetStrings(ctx, client, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "", "3"}, values)
	assert.Equal(t, []bool{true, false, true}, present)

	values, present, err = MGetStrings(ctx, client, nil)
	require.NoError(t, err)
	assert.Nil(t, values)
	assert.Nil(t, present)
}

func TestLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewLocker(client)

	release, err := locker.Acquire(ctx, "resource")
	require.NoError(t, err)
	require.NoError(t, release())

	// Reacquirable after release.
	release, err = locker.Acquire(ctx, "resource")
	require.NoError(t, err)
	require.NoError(t, release())
}
