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

	"github.com/carverauto/fieldgate/pkg/config"
	"github.com/carverauto/fieldgate/pkg/gateway"
	"github.com/carverauto/fieldgate/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fieldgate/gateway.json", "Path to gateway config file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fieldgate-ingest [-config path] <document.pdf>")
		os.Exit(2)
	}

	ctx := context.Background()

	var cfg gateway.Config
	if err := config.NewConfig().LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel

	lg, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	gw, err := gateway.New(&cfg, lg)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	d, err := gw.IngestDocument(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("document rejected: %w", err)
	}

	fmt.Printf("accepted: %s (%s, %d parameters, partial=%t)\n",
		d.DeviceID, d.ProtocolName, len(d.Parameters), d.Partial)

	return nil
}
