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
	"sort"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// ScanKeys collects every key matching pattern. Results are sorted so
// callers iterate deterministically.
func ScanKeys(ctx context.Context, client *redis.Client, pattern string) ([]string, error) {
	var keys []string

	var cursor uint64

	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, err
		}

		keys = append(keys, batch...)

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(keys)

	return keys, nil
}

// MGetStrings fetches the given keys in one round trip; missing keys come
// back as empty strings with ok=false.
func MGetStrings(ctx context.Context, client *redis.Client, keys []string) (values []string, present []bool, err error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}

	raw, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}

	values = make([]string, len(raw))
	present = make([]bool, len(raw))

	for i, v := range raw {
		if s, ok := v.(string); ok {
			values[i] = s
			present[i] = true
		}
	}

	return values, present, nil
}
