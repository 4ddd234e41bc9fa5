// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"
	"machinery/internal/controller"
)

type sensorsMsg struct {
	sensors []controller.SensorStatus
	err     error
}

type commandMsg struct {
	sensorID string
	command  string
	result   *controller.CommandResponse
	err      error
}

type tickMsg time.Time

// LogEntry is one line of the command log
type LogEntry struct {
	Timestamp time.Time
	Level     string // INF, ERR
	Message   string
}

// Model is the live sensor dashboard
type Model struct {
	client   *Client
	interval time.Duration

	sensors    []controller.SensorStatus
	selected   int
	lastUpdate time.Time
	lastErr    error
	pending    bool

	logBuffer   []LogEntry
	maxLogLines int

	width    int
	quitting bool
}

func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:      client,
		interval:    interval,
		maxLogLines: 5,
	}
}

func (m Model) Init() tea.Cmd {
	return m.refresh()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.sensors)-1 {
				m.selected++
			}
		case "s", "enter":
			return m.send("status")
		case "r":
			return m.send("reading")
		}
		return m, nil

	case tickMsg:
		return m, m.refresh()

	case sensorsMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.sensors = msg.sensors
			m.lastUpdate = time.Now()
			if m.selected >= len(m.sensors) {
				m.selected = max(len(m.sensors)-1, 0)
			}
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case commandMsg:
		m.pending = false
		switch {
		case msg.err != nil:
			m.addLogEntry("ERR", fmt.Sprintf("%s %s: %v", msg.sensorID, msg.command, msg.err))
		case msg.result.TimedOut:
			m.addLogEntry("ERR", fmt.Sprintf("%s %s: timed out after %dms", msg.sensorID, msg.command, msg.result.LatencyMS))
		default:
			m.addLogEntry("INF", fmt.Sprintf("%s %s → %s (%dms)", msg.sensorID, msg.command, msg.result.Response, msg.result.LatencyMS))
		}
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var sections []string
	sections = append(sections, TitleStyle.Render("Machinery - Sensor Monitor"))

	status := SuccessStyle.Render("✓ Connected")
	if m.lastErr != nil {
		status = ErrorStyle.Render("✗ " + m.lastErr.Error())
	}
	if !m.lastUpdate.IsZero() {
		status += HelpStyle.Render("  updated " + m.lastUpdate.Format("15:04:05"))
	}
	sections = append(sections, status)

	if len(m.sensors) == 0 {
		sections = append(sections, warnStyle.Render("No sensors provisioned"))
	} else {
		sections = append(sections, m.renderSensors())
	}

	if logs := m.renderLogDisplay(); logs != "" {
		sections = append(sections, logs)
	}

	sections = append(sections, HelpStyle.Render("↑/↓: Select • s: Status • r: Reading • q: Quit"))
	return strings.Join(sections, "\n\n")
}

func (m Model) renderSensors() string {
	rows := make([][]string, 0, len(m.sensors))
	for i, s := range m.sensors {
		marker := "  "
		if i == m.selected {
			marker = "▸ "
		}
		reading := "-"
		if s.LatestReading != nil {
			reading = fmt.Sprintf("%.2f @ %s", s.LatestReading.Value, s.LatestReading.ReceivedAt.Local().Format("15:04:05"))
		}
		rows = append(rows, []string{
			marker + s.ID,
			s.Kind,
			s.SerialNo,
			Connected(s.CommandConnected),
			Connected(s.TelemetryConnected),
			reading,
		})
	}
	return RenderTable([]string{"  SENSOR", "KIND", "SERIAL", "COMMAND", "TELEMETRY", "LATEST"}, rows)
}

func (m Model) renderLogDisplay() string {
	if len(m.logBuffer) == 0 {
		return ""
	}

	start := 0
	if len(m.logBuffer) > m.maxLogLines {
		start = len(m.logBuffer) - m.maxLogLines
	}

	lines := []string{HelpStyle.Render("─── COMMANDS ───")}
	for _, entry := range m.logBuffer[start:] {
		level := SuccessStyle.Render(entry.Level)
		if entry.Level == "ERR" {
			level = ErrorStyle.Render(entry.Level)
		}
		lines = append(lines, fmt.Sprintf("%s [%s] %s", entry.Timestamp.Format("15:04:05"), level, entry.Message))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) addLogEntry(level, message string) {
	m.logBuffer = append(m.logBuffer, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
	if len(m.logBuffer) > 20 {
		m.logBuffer = m.logBuffer[1:]
	}
}

func (m Model) refresh() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sensors, err := client.Sensors(ctx)
		return sensorsMsg{sensors: sensors, err: err}
	}
}

// send relays one command to the selected sensor. Only one command is in
// flight from the dashboard at a time.
func (m Model) send(command string) (tea.Model, tea.Cmd) {
	if m.pending || len(m.sensors) == 0 {
		return m, nil
	}
	m.pending = true
	sensorID := m.sensors[m.selected].ID
	client := m.client
	return m, func() tea.Msg {
		result, err := client.SendCommand(context.Background(), sensorID, command)
		return commandMsg{sensorID: sensorID, command: command, result: result, err: err}
	}
}

// Run starts the dashboard and blocks until the user quits
func Run(client *Client, interval time.Duration) error {
	p := tea.NewProgram(NewModel(client, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
