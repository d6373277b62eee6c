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
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

// frameEvent is one inbound WebSocket frame, or the error that ended the
// connection.
type frameEvent struct {
	text string
	err  error
}

// frameSender is the outbound half of the connection. Satisfied by
// *websocket.Conn; tests substitute a recorder.
type frameSender interface {
	WriteMessage(messageType int, data []byte) error
}

var (
	youStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)
	botStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
)

// Messages delivered into the bubbletea event loop.
type serverFrameMsg string
type disconnectMsg struct{ err error }

// chatModel is the bubbletea model for the terminal chat.
//
// State lives entirely in the model; the read pump goroutine only feeds
// the frames channel, so the bubbletea loop stays single-threaded.
type chatModel struct {
	input      textinput.Model
	transcript []string
	conn       frameSender
	frames     <-chan frameEvent
	waiting    bool
	done       bool
	errText    string
}

func newChatModel(conn frameSender, frames <-chan frameEvent) chatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	return chatModel{
		input:  ti,
		conn:   conn,
		frames: frames,
	}
}

// waitForFrame blocks on the frames channel as a tea.Cmd.
func waitForFrame(frames <-chan frameEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-frames
		if !ok || ev.err != nil {
			return disconnectMsg{err: ev.err}
		}
		return serverFrameMsg(ev.text)
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForFrame(m.frames))
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD, tea.KeyEsc:
			m.done = true
			return m, tea.Quit

		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" || m.waiting {
				return m, nil
			}
			if err := m.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				m.errText = "connection lost: " + err.Error()
				m.done = true
				return m, tea.Quit
			}
			m.transcript = append(m.transcript, youStyle.Render("you: ")+text)
			m.input.SetValue("")
			m.waiting = true
			return m, nil
		}

	case serverFrameMsg:
		m.transcript = append(m.transcript, botStyle.Render("bot: ")+string(msg))
		m.waiting = false
		return m, waitForFrame(m.frames)

	case disconnectMsg:
		if msg.err != nil {
			m.errText = "connection closed: " + msg.err.Error()
		} else {
			m.errText = "connection closed"
		}
		m.done = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) View() string {
	var b strings.Builder
	for _, line := range m.transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.errText != "" {
		b.WriteString(faintStyle.Render(m.errText))
		b.WriteString("\n")
	}
	if m.done {
		return b.String()
	}
	if m.waiting {
		b.WriteString(faintStyle.Render("thinking..."))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	return b.String()
}
