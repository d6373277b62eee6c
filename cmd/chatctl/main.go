// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// chatctl is a terminal client for the chatbot services. It speaks the
// same raw-text WebSocket protocol as the browser page: one frame per
// user message, one frame per assistant reply.
package main

import (
	"fmt"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "A terminal chat client for the AleutianChat services",
	Long: `chatctl connects to a running gptbot or weatherbot service over
WebSocket and runs the conversation in your terminal instead of a browser.`,
	RunE: runChat,
}

func init() {
	rootCmd.Flags().StringVar(&serverURL, "server",
		"ws://localhost:12210/v1/chat/ws", "WebSocket URL of the chat service")
}

func runChat(cmd *cobra.Command, args []string) error {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL, err)
	}
	defer conn.Close()

	frames := make(chan frameEvent, 8)
	go readPump(conn, frames)

	m := newChatModel(conn, frames)
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal UI error: %w", err)
	}
	return nil
}

// readPump forwards inbound text frames to the TUI until the connection
// drops, then delivers the close error and exits.
func readPump(conn *websocket.Conn, frames chan<- frameEvent) {
	defer close(frames)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			frames <- frameEvent{err: err}
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		frames <- frameEvent{text: string(data)}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
