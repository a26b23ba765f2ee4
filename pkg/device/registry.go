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
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a device from its config.
type Constructor func(cfg Config) Device

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register adds a device plugin under name. Plugins call this from their
// package init; a duplicate name panics at process start.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("device: duplicate plugin registration %q", name))
	}

	registry[name] = ctor
}

// New constructs the named device plugin.
func New(name string, cfg Config) (Device, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("device: unknown plugin %q (have %v)", name, Names())
	}

	return ctor(cfg), nil
}

// Names lists the registered plugin names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
