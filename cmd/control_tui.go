// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/gripstat/pkg/gripwire"
	"github.com/Thermoquad/gripstat/pkg/session"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	controlTickInterval = 100 * time.Millisecond
	sliderStep          = 0.05
	sliderFineStep      = 0.01
	sliderWidth         = 20
	maxLogEntries       = 100
)

// Focus states
const (
	focusSliders = iota
	focusPresets
	focusInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// presetItem adapts a preset to list.Item
type presetItem struct {
	preset session.Preset
}

func (p presetItem) Title() string       { return p.preset.Name }
func (p presetItem) Description() string { return p.preset.Values.String() }
func (p presetItem) FilterValue() string { return p.preset.Name }

type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	holder *sessionHolder

	// Last observed session state, for change detection on each tick
	sess          *session.Session
	lastPhase     session.Phase
	lastFaulted   [gripwire.NumActuators]bool
	lastMalformed uint64

	// Control
	draft         gripwire.Setpoint
	selected      int
	presetList    list.Model
	setpointInput textinput.Model
	focusedField  int

	errorLog []errorLogEntry

	// UI state
	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(holder *sessionHolder) controlModel {
	ti := textinput.New()
	ti.Placeholder = "0.80 0.80 0.80 0.80"
	ti.CharLimit = 40
	ti.Width = 24

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	presetList := list.New([]list.Item{}, delegate, 30, 12)
	presetList.Title = "Presets"
	presetList.SetShowStatusBar(false)
	presetList.SetShowHelp(false)
	presetList.SetFilteringEnabled(false)

	m := controlModel{
		holder:        holder,
		presetList:    presetList,
		setpointInput: ti,
		focusedField:  focusSliders,
		errorLog:      make([]errorLogEntry, 0),
		width:         80,
		height:        24,
	}
	m.syncSession()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return controlTickCmd()
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(controlTickInterval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case controlTickMsg:
		m.syncSession()
		return m, controlTickCmd()
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "ctrl+x":
		m.emergencyStop()
		return m, nil

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil
	}

	// The setpoint input swallows everything else
	if m.focusedField == focusInput {
		switch msg.String() {
		case "esc":
			m.focusedField = focusSliders
			m.setpointInput.Blur()
			return m, nil
		case "enter":
			m.applyTypedSetpoint()
			return m, nil
		}
		var cmd tea.Cmd
		m.setpointInput, cmd = m.setpointInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "x":
		m.emergencyStop()
		return m, nil
	case "g":
		m.toggleFinger()
		return m, nil
	}

	switch m.focusedField {
	case focusSliders:
		switch msg.String() {
		case "up", "k":
			m.selected = (m.selected + gripwire.NumActuators - 1) % gripwire.NumActuators
		case "down", "j":
			m.selected = (m.selected + 1) % gripwire.NumActuators
		case "left", "h":
			m.adjustSlider(-sliderStep)
		case "right", "l":
			m.adjustSlider(sliderStep)
		case "[":
			m.adjustSlider(-sliderFineStep)
		case "]":
			m.adjustSlider(sliderFineStep)
		}

	case focusPresets:
		if msg.String() == "enter" {
			m.applySelectedPreset()
			return m, nil
		}
		var cmd tea.Cmd
		m.presetList, cmd = m.presetList.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m controlModel) cycleFocus(delta int) controlModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount
	if m.focusedField == focusInput {
		m.setpointInput.Focus()
	} else {
		m.setpointInput.Blur()
	}
	return m
}

//////////////////////////////////////////////////////////////
// Session Tracking
//////////////////////////////////////////////////////////////

// syncSession picks up session swaps and logs phase and fault changes
func (m *controlModel) syncSession() {
	s := m.holder.get()
	if s != m.sess {
		m.sess = s
		if s == nil {
			m.addLogEntry("Session closed", true)
			return
		}
		m.adoptSession(s)
		return
	}
	if s == nil {
		return
	}

	if phase := s.Phase(); phase != m.lastPhase {
		switch phase {
		case session.Degraded:
			m.addLogEntry("Link lost - reconnecting...", true)
		case session.Active:
			m.addLogEntry("Link restored: "+s.LinkInfo(), false)
		case session.Terminated:
			m.addLogEntry("Session terminated - restarting shortly", true)
		}
		m.lastPhase = phase
	}
	snap := s.Snapshot()
	for i, stopped := range snap.Stopped {
		faulted := !stopped
		if faulted && !m.lastFaulted[i] {
			m.addLogEntry(fmt.Sprintf("Actuator %d reports FAULT", i+1), true)
		} else if !faulted && m.lastFaulted[i] {
			m.addLogEntry(fmt.Sprintf("Actuator %d fault cleared", i+1), false)
		}
		m.lastFaulted[i] = faulted
	}

	if malformed := s.Stats().MalformedFrames; malformed > m.lastMalformed {
		m.addLogEntry(fmt.Sprintf("Dropped %d malformed frame(s)", malformed-m.lastMalformed), true)
		m.lastMalformed = malformed
	}
}

// adoptSession resets the view to a new session's initial state
func (m *controlModel) adoptSession(s *session.Session) {
	m.lastPhase = s.Phase()
	m.lastFaulted = [gripwire.NumActuators]bool{}
	m.lastMalformed = 0
	m.draft = s.Commanded().Setpoint

	presets := s.Presets().All()
	items := make([]list.Item, len(presets))
	for i, p := range presets {
		items[i] = presetItem{preset: p}
	}
	m.presetList.SetItems(items)

	m.addLogEntry("Session started: "+s.LinkInfo(), false)
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *controlModel) current() *session.Session {
	if m.sess == nil {
		m.addLogEntry("Cannot send command: no session", true)
	}
	return m.sess
}

func (m *controlModel) intentFailed(what string, err error) {
	if errors.Is(err, session.ErrTerminated) {
		m.addLogEntry(what+" ignored: session terminated", true)
		return
	}
	m.addLogEntry(fmt.Sprintf("%s failed: %v", what, err), true)
}

func (m *controlModel) adjustSlider(delta float64) {
	v := m.draft[m.selected] + delta
	v = math.Round(v*100) / 100
	m.draft[m.selected] = min(max(v, gripwire.SetpointMin), gripwire.SetpointMax)
	m.requestSetpoint(m.draft, "")
}

// requestSetpoint sends sp and refreshes the sliders from the commanded
// state. label names the source in the event log; sliders pass "".
func (m *controlModel) requestSetpoint(sp gripwire.Setpoint, label string) {
	s := m.current()
	if s == nil {
		return
	}

	outcome, err := s.RequestSetpoint(sp)
	if err != nil {
		m.intentFailed("Setpoint", err)
		return
	}
	m.draft = s.Commanded().Setpoint

	switch {
	case outcome == session.Queued:
		m.addLogEntry("Link down: setpoint queued", true)
	case label != "":
		m.addLogEntry(fmt.Sprintf("%s: %s (%s)", label, m.draft, outcome), false)
	}
}

func (m *controlModel) applySelectedPreset() {
	item, ok := m.presetList.SelectedItem().(presetItem)
	if !ok {
		return
	}
	m.requestSetpoint(item.preset.Values, "Preset "+item.preset.Name)
}

func (m *controlModel) applyTypedSetpoint() {
	sp, err := parseSetpoint(m.setpointInput.Value())
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return
	}
	m.requestSetpoint(sp, "Setpoint")
	m.setpointInput.SetValue("")
}

func (m *controlModel) toggleFinger() {
	s := m.current()
	if s == nil {
		return
	}
	finger, outcome, err := s.ToggleFinger()
	if err != nil {
		m.intentFailed("Finger", err)
		return
	}
	m.addLogEntry(fmt.Sprintf("Finger %s (%s)", finger, outcome), outcome == session.Queued)
}

func (m *controlModel) emergencyStop() {
	s := m.current()
	if s == nil {
		return
	}
	err := s.EmergencyStop()
	switch {
	case err == nil:
		m.addLogEntry("EMERGENCY STOP sent", true)
	case errors.Is(err, session.ErrTerminated):
		m.addLogEntry("Emergency stop already issued", true)
	default:
		m.addLogEntry(fmt.Sprintf("EMERGENCY STOP NOT DELIVERED: %v", err), true)
	}
	m.lastPhase = s.Phase()
}

// parseSetpoint accepts four numbers separated by spaces or commas
func parseSetpoint(text string) (gripwire.Setpoint, error) {
	var sp gripwire.Setpoint
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) != gripwire.NumActuators {
		return sp, fmt.Errorf("setpoint needs %d values, got %d", gripwire.NumActuators, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return sp, fmt.Errorf("invalid setpoint value %q", f)
		}
		sp[i] = v
	}
	return sp, nil
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	connStatus := "no session"
	if m.sess != nil {
		connStatus = m.sess.LinkInfo()
	}
	s.WriteString(titleStyle.Render("GRIPSTAT CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | ", connStatus)))
	s.WriteString(m.renderPhase())
	s.WriteString(headerStyle.Render(" | q=quit Tab=switch g=finger x=STOP"))
	s.WriteString("\n\n")

	leftWidth := 30
	rightWidth := max(m.width-leftWidth-6, 30)

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusPresets {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	presetPanel := listStyle.Render(m.presetList.View())

	controlStyle := boxStyle.Width(rightWidth)
	if m.focusedField != focusPresets {
		controlStyle = focusedBoxStyle.Width(rightWidth)
	}
	controlPanel := controlStyle.Render(m.renderControlPanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, presetPanel, " ", controlPanel))
	s.WriteString("\n")
	s.WriteString(m.renderTelemetry())
	s.WriteString("\n")
	s.WriteString(m.renderStatisticsBar())
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())

	return s.String()
}

func (m controlModel) renderPhase() string {
	if m.sess == nil {
		return warningStyle.Render("STARTING...")
	}
	switch m.lastPhase {
	case session.Active:
		return statsValueStyle.Render(m.lastPhase.String())
	case session.Degraded:
		return warningStyle.Render("RECONNECTING...")
	default:
		return errorStyle.Render("EMERGENCY STOP")
	}
}

func (m controlModel) renderControlPanel() string {
	var s strings.Builder

	for i, v := range m.draft {
		cursor := "  "
		if i == m.selected && m.focusedField == focusSliders {
			cursor = "> "
		}
		filled := int(math.Round(v * sliderWidth))
		bar := strings.Repeat("█", filled) + strings.Repeat("░", sliderWidth-filled)
		s.WriteString(fmt.Sprintf("%s%s [%s] %s\n",
			cursor,
			statsLabelStyle.Render(fmt.Sprintf("A%d", i+1)),
			bar,
			statsValueStyle.Render(fmt.Sprintf("%.2f", v))))
	}
	s.WriteString("\n")

	finger, preset := "-", "-"
	if m.sess != nil {
		cmd := m.sess.Commanded()
		finger = cmd.Finger.String()
		preset = cmd.Preset
	}
	s.WriteString(fmt.Sprintf("%s %s  %s %s\n\n",
		statsLabelStyle.Render("Finger:"), statsValueStyle.Render(finger),
		statsLabelStyle.Render("Preset:"), statsValueStyle.Render(preset)))

	s.WriteString(statsLabelStyle.Render("Setpoint: "))
	if m.focusedField == focusInput {
		s.WriteString(m.setpointInput.View())
	} else {
		s.WriteString(headerStyle.Render("[Tab to type four values]"))
	}

	return s.String()
}

func (m controlModel) renderTelemetry() string {
	var content strings.Builder
	content.WriteString(statsLabelStyle.Render("TELEMETRY"))

	if m.sess == nil {
		content.WriteString(" | No telemetry data")
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	t := m.sess.Snapshot()
	if t.Sequence == 0 {
		content.WriteString(headerStyle.Render(" | waiting for first frame"))
	} else {
		content.WriteString(headerStyle.Render(fmt.Sprintf(" | #%d at %s", t.Sequence, t.ReceivedAt.Format("15:04:05.000"))))
	}
	content.WriteString("\n")

	for i := range gripwire.NumActuators {
		stop := statsValueStyle.Render(fmt.Sprintf("%-5s", gripwire.FormatStopFlag(t.Stopped[i])))
		if !t.Stopped[i] {
			stop = errorStyle.Render(fmt.Sprintf("%-5s", gripwire.FormatStopFlag(t.Stopped[i])))
		}
		content.WriteString(fmt.Sprintf("A%d %s  %s  %s %-7s",
			i+1,
			statsValueStyle.Render(fmt.Sprintf("%8.1f hPa", t.Pressures[i])),
			stop,
			statsLabelStyle.Render("Grasp:"),
			t.Grasp[i]))
		if t.HasBend {
			content.WriteString(fmt.Sprintf("  %s %d", statsLabelStyle.Render("Bend:"), t.Bend[i]))
		}
		if i < gripwire.NumActuators-1 {
			content.WriteString("\n")
		}
	}

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m controlModel) renderStatisticsBar() string {
	if m.sess == nil {
		return ""
	}
	st := m.sess.Stats()

	errPercent := "0.0%"
	if st.TotalFrames > 0 && st.MalformedFrames > 0 {
		errPercent = errorStyle.Render(fmt.Sprintf("%.1f%%", float64(st.MalformedFrames)*100/float64(st.TotalFrames)))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", st.ValidPercent())),
		statsLabelStyle.Render("Errors:"), errPercent,
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f fr/s", st.FrameRate)),
		statsLabelStyle.Render("Sent:"), statsValueStyle.Render(fmt.Sprintf("%d (%d throttled)", st.CommandsSent, st.CommandsThrottled)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := min(len(m.errorLog), 8)
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.errorLog[startIdx:] {
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}

func (m *controlModel) updateListSize() {
	listHeight := max(m.height/3, 8)
	m.presetList.SetSize(28, listHeight)
}
