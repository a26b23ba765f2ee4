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

package logger

import (
	"os"
	"strings"
)

// Config controls how process logging is set up. Severity maps to the
// zerolog level. Verbosity is accepted from the command line, but New does
// not read it, so it has no effect on the output.
type Config struct {
	Severity   string `json:"severity"`
	Verbosity  string `json:"verbosity"`
	Output     string `json:"output"`
	LogFile    string `json:"log_file"`
	TimeFormat string `json:"time_format"`
	Color      bool   `json:"color"`
}

func DefaultConfig() *Config {
	return &Config{
		Severity: getEnvOrDefault("LOG_SEVERITY", "info"),
		Output:   getEnvOrDefault("LOG_OUTPUT", "stderr"),
		Color:    getEnvBoolOrDefault("LOG_COLOR", false),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes" || value == "on"
}
