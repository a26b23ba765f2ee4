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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/carverauto/nestdaq/pkg/api"
	"github.com/carverauto/nestdaq/pkg/hub"
	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/lifecycle"
	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	httpURI := flag.String("http-uri", "http://0.0.0.0:8080", "HTTP listen URI (scheme://addr:port)")
	threads := flag.Int("threads", 1, "number of OS threads for the HTTP layer (accepted; not used)")
	docRoot := flag.String("doc-root", ".", "directory served at /")
	redisURI := flag.String("redis-uri", "redis://127.0.0.1:6379/0", "registry URI")
	separator := flag.String("separator", keyspace.DefaultSeparator, "registry key separator")
	pollInterval := flag.Int("poll-interval", 1000, "state poll interval in milliseconds")
	preRun := flag.String("pre-run", "", "shell command executed before the RUN broadcast")
	postRun := flag.String("post-run", "", "shell command executed after the RUN broadcast")
	preStop := flag.String("pre-stop", "", "shell command executed before the STOP broadcast")
	postStop := flag.String("post-stop", "", "shell command executed after the STOP broadcast")
	severity := flag.String("severity", "info", "log severity")
	verbosity := flag.String("verbosity", "", "log verbosity")
	logToFile := flag.String("log-to-file", "", "also write logs to this file")
	color := flag.Bool("color", false, "colored console log output")
	flag.Parse()

	_ = threads

	zlog, err := lifecycle.InitLogger(&logger.Config{
		Severity:  *severity,
		Verbosity: *verbosity,
		LogFile:   *logToFile,
		Color:     *color,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()

	client, db, err := redisutil.NewClient(*redisURI)
	if err != nil {
		return err
	}

	if err := redisutil.Connect(ctx, client); err != nil {
		zlog.Error().Err(err).Str("uri", *redisURI).Msg("Registry unreachable")
		os.Exit(1)
	}

	if err := redisutil.EnableExpiryNotifications(ctx, client); err != nil {
		zlog.Warn().Err(err).Msg("Keyspace notifications could not be enabled")
	}

	h := hub.New(client, hub.Config{
		Separator:    *separator,
		DB:           db,
		PollInterval: time.Duration(*pollInterval) * time.Millisecond,
		PreRun:       *preRun,
		PostRun:      *postRun,
		PreStop:      *preStop,
		PostStop:     *postStop,
	}, zlog)

	server := api.NewServer(h, api.Config{HTTPURI: *httpURI, DocRoot: *docRoot}, zlog)

	return lifecycle.RunTasks(ctx, zlog,
		lifecycle.Task{Name: "state-poll", Run: h.PollState},
		lifecycle.Task{Name: "subscriber", Run: h.SubscribeLoop},
		lifecycle.Task{Name: "http-server", Run: server.Run},
	)
}
