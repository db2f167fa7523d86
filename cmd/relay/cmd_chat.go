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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	chatModel     string   // Preferred model key
	chatFallbacks []string // Ordered fallback model keys
	chatVerbose   bool     // Show status events alongside tokens
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// chatCmd streams one chat completion through the gateway.
//
// # Description
//
// Sends the prompt to POST /v1/chat/stream and prints tokens as they
// arrive. Status events (model selection, fallback) go to stderr when
// --verbose is set.
//
// # Examples
//
//	relay chat "explain circuit breakers" -m ollama/llama3
//	relay chat "hello" -m openai/gpt-4o --fallback ollama/llama3
var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Stream a chat completion through the gateway",
	Args:  cobra.ExactArgs(1),
	Run:   runChatCommand,
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "ollama/llama3",
		"Preferred model as provider/model")
	chatCmd.Flags().StringSliceVar(&chatFallbacks, "fallback", nil,
		"Fallback models in preference order")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false,
		"Print status events to stderr")
}

func runChatCommand(cmd *cobra.Command, args []string) {
	fallbacks := make([]string, 0, len(chatFallbacks))
	for _, f := range chatFallbacks {
		fallbacks = append(fallbacks, f)
	}

	request := datatypes.ChatStreamRequest{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Model:     chatModel,
		Fallbacks: fallbacks,
		Messages: []datatypes.Message{
			{Role: "user", Content: args[0]},
		},
	}
	if err := request.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	resp, err := http.Post(gatewayURL+"/v1/chat/stream", "application/json",
		bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		_, _ = errBody.ReadFrom(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n",
			resp.StatusCode, errBody.String())
		os.Exit(1)
	}

	if err := printEventStream(resp); err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
}

// printEventStream consumes the SSE response and writes tokens to
// stdout until a done or error event arrives.
func printEventStream(resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var event datatypes.StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
				continue
			}
			switch datatypes.StreamEventType(eventType) {
			case datatypes.StreamEventToken:
				fmt.Print(event.Content)
			case datatypes.StreamEventStatus:
				if chatVerbose {
					fmt.Fprintf(os.Stderr, "[status] %s\n", event.Message)
				}
			case datatypes.StreamEventError:
				return fmt.Errorf("stream error: %s", event.Error)
			case datatypes.StreamEventDone:
				fmt.Println()
				return nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without done event")
}
