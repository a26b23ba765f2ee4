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
	"net"
	"os"
	"strings"
	"time"

	"github.com/carverauto/nestdaq/pkg/agent"
	"github.com/carverauto/nestdaq/pkg/config"
	"github.com/carverauto/nestdaq/pkg/device"
	"github.com/carverauto/nestdaq/pkg/keyspace"
	"github.com/carverauto/nestdaq/pkg/lifecycle"
	"github.com/carverauto/nestdaq/pkg/logger"
	"github.com/carverauto/nestdaq/pkg/metrics"
	"github.com/carverauto/nestdaq/pkg/redisutil"
)

type optionFlags map[string]string

func (o optionFlags) String() string { return fmt.Sprintf("%v", map[string]string(o)) }

func (o optionFlags) Set(v string) error {
	kv := strings.SplitN(v, "=", 2)
	if len(kv) != 2 {
		return fmt.Errorf("option %q is not key=value", v)
	}

	o[kv[0]] = kv[1]

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to an agent config JSON file")
	serviceName := flag.String("service-name", "", "logical service name of this worker")
	uuidFlag := flag.String("uuid", "", "preassigned instance uuid")
	hostIP := flag.String("host-ip", "", "IP address advertised to peers")
	hostName := flag.String("hostname", "", "host name advertised to peers")
	registryURI := flag.String("registry-uri", "redis://127.0.0.1:6379/0", "registry URI")
	separator := flag.String("separator", keyspace.DefaultSeparator, "registry key separator")
	maxTTL := flag.Int("max-ttl", 5, "max TTL in seconds for registry keys")
	ttlUpdateInterval := flag.Int("ttl-update-interval", 3, "TTL refresh interval in seconds")
	startupState := flag.String("startup-state", "idle", "state to walk to after registration")
	enableUDS := flag.Bool("enable-uds", false, "use unix domain sockets for same-host peers")
	deviceName := flag.String("device", "null", "device plugin to run")
	connectConfig := flag.String("connect-config", "", "JSON declaration of symbolic connect peers")
	severity := flag.String("severity", "info", "log severity")
	verbosity := flag.String("verbosity", "", "log verbosity")
	logToFile := flag.String("log-to-file", "", "also write logs to this file")
	color := flag.Bool("color", false, "colored console log output")

	options := make(optionFlags)
	flag.Var(options, "option", "device option key=value (repeatable)")
	flag.Parse()

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

	// Defaults and validation run only after the flag overrides below.
	cfg := agent.Config{Options: map[string]string{}}

	if *configPath != "" {
		loader := &config.FileConfigLoader{}
		if err := loader.Load(ctx, *configPath, &cfg); err != nil {
			return err
		}
	}

	// Flags win over the config file.
	if *serviceName != "" {
		cfg.ServiceName = *serviceName
	}

	if *uuidFlag != "" {
		cfg.UUID = *uuidFlag
	}

	if *hostName != "" {
		cfg.HostName = *hostName
	}

	if *hostIP != "" {
		cfg.HostIP = *hostIP
	}

	if *separator != "" {
		cfg.Separator = *separator
	}

	cfg.MaxTTL = time.Duration(*maxTTL) * time.Second
	cfg.TTLUpdateInterval = time.Duration(*ttlUpdateInterval) * time.Second
	cfg.StartupState = *startupState
	cfg.EnableUDS = *enableUDS

	if *connectConfig != "" {
		cfg.ConnectConfig = *connectConfig
	}

	for k, v := range options {
		cfg.Options[k] = v
	}

	if cfg.HostIP == "" {
		cfg.HostIP = detectHostIP()
	}

	// Flags are all applied; run the defaults and validation pass.
	if err := config.LoadAndValidate(ctx, "", &cfg); err != nil {
		return err
	}

	client, _, err := redisutil.NewClient(*registryURI)
	if err != nil {
		return err
	}

	if err := redisutil.Connect(ctx, client); err != nil {
		zlog.Error().Err(err).Str("uri", *registryURI).Msg("Registry unreachable")
		os.Exit(1)
	}

	dev, err := device.New(*deviceName, device.Config{
		ServiceName: cfg.ServiceName,
		Options:     cfg.Options,
		Logger:      zlog,
	})
	if err != nil {
		return err
	}

	a := agent.New(client, dev, cfg, zlog)

	if sampler, err := metrics.NewSampler(zlog); err == nil {
		a.HealthSampler = sampler.Sample
	} else {
		zlog.Warn().Err(err).Msg("Host metrics sampling disabled")
	}

	return lifecycle.RunTasks(ctx, zlog,
		lifecycle.Task{Name: "instance-agent", Run: a.Run},
	)
}

// detectHostIP picks the first non-loopback unicast address.
func detectHostIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}

	return "127.0.0.1"
}
