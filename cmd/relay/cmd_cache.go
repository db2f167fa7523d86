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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var cacheCategory string // Scope to one cache category

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and reset gateway cache metrics",
}

// cacheMetricsCmd fetches GET /v1/cache/metrics.
var cacheMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display cache hit/miss/error counters",
	Run:   runCacheMetricsCommand,
}

// cacheResetCmd calls POST /v1/cache/metrics/reset.
//
// Resets counters only; cached content is untouched.
var cacheResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset cache counters, optionally for one category",
	Run:   runCacheResetCommand,
}

func init() {
	cacheMetricsCmd.Flags().StringVarP(&cacheCategory, "category", "c", "",
		"Cache category (stats, sessionsList, search, userProfile, modelCatalog)")
	cacheResetCmd.Flags().StringVarP(&cacheCategory, "category", "c", "",
		"Cache category to reset (all when omitted)")

	cacheCmd.AddCommand(cacheMetricsCmd)
	cacheCmd.AddCommand(cacheResetCmd)
}

func runCacheMetricsCommand(cmd *cobra.Command, args []string) {
	endpoint := gatewayURL + "/v1/cache/metrics"
	if cacheCategory != "" {
		endpoint += "?category=" + url.QueryEscape(cacheCategory)
	}
	body, err := httpGet(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(body))
}

func runCacheResetCommand(cmd *cobra.Command, args []string) {
	endpoint := gatewayURL + "/v1/cache/metrics/reset"
	if cacheCategory != "" {
		endpoint += "?category=" + url.QueryEscape(cacheCategory)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(endpoint, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}
	fmt.Println(string(body))
}
