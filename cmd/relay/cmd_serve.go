// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/pkg/logging"
	"github.com/AleutianAI/AleutianRelay/services/gateway/config"
	"github.com/AleutianAI/AleutianRelay/services/gateway/server"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var serveConfigFile string // Path to config.yaml

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// serveCmd runs the gateway in-process.
//
// # Description
//
// Loads the gateway configuration (defaults, then file, then RELAY_*
// environment overrides) and serves until SIGINT/SIGTERM.
//
// # Examples
//
//	relay serve
//	relay serve --config /etc/relay/config.yaml
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay gateway",
	RunE:  runServeCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "",
		"Path to config file (YAML or JSON)")

	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		Service: "relay",
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cleanup, err := server.InitTracer()
	if err != nil {
		return fmt.Errorf("setup OTLP tracer: %w", err)
	}
	defer cleanup(context.Background())

	configPath := serveConfigFile
	if configPath == "" {
		configPath = os.Getenv("RELAY_CONFIG_FILE")
	}
	cfg, err := config.LoadGatewayConfig(configPath)
	if err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, cfg)
}
