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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var statusJSONOutput bool // Output as JSON

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// statusCmd reports per-model availability.
//
// # Description
//
// Fetches GET /v1/models/status from the gateway and prints each
// model's breaker state, failure count, reliability score, average
// latency, and exclusion flag.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display per-model breaker and routing state",
	Run:   runStatusCommand,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSONOutput, "json", false, "Output as JSON")
}

func runStatusCommand(cmd *cobra.Command, args []string) {
	body, err := httpGet(gatewayURL + "/v1/models/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if statusJSONOutput {
		fmt.Println(string(body))
		return
	}

	var payload struct {
		Models map[string]datatypes.ModelStatus `json:"models"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid response: %v\n", err)
		os.Exit(1)
	}

	keys := make([]string, 0, len(payload.Models))
	for key := range payload.Models {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Printf("%-32s %-10s %8s %12s %12s %s\n",
		"MODEL", "STATE", "FAILURES", "RELIABILITY", "AVG LATENCY", "EXCLUDED")
	for _, key := range keys {
		status := payload.Models[key]
		fmt.Printf("%-32s %-10s %8d %12.3f %10.0fms %t\n",
			key, status.State, status.FailureCount,
			status.ReliabilityScore, status.AvgLatencyMs, status.Excluded)
	}
}

// httpGet fetches url with a short timeout and returns the body.
func httpGet(url string) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
