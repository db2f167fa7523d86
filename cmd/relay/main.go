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
	"log"

	"github.com/spf13/cobra"
)

// =============================================================================
// Root Command
// =============================================================================

var gatewayURL string

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "CLI client for the Aleutian relay gateway",
	Long: `relay talks to a running relay gateway over HTTP.

Examples:
  relay serve                      # Run the gateway in-process
  relay status                     # Per-model breaker and routing state
  relay cache metrics              # Cache hit/miss/error counters
  relay cache reset -c stats       # Reset one category's counters
  relay chat "hello" -m ollama/llama3`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway-url",
		"http://localhost:8090", "Base URL of the relay gateway")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(chatCmd)
}
