package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/vango-go/vai-call/pkg/call/channel"
	"github.com/vango-go/vai-call/pkg/core/types"
	vai "github.com/vango-go/vai-call/sdk"

	tea "github.com/charmbracelet/bubbletea"
)

const tuiHelp = "enter send · ctrl+r record/stop · ctrl+p play/pause · esc quit"

// Messages produced by simulator commands.
type (
	eventMsg     struct{ ev vai.Event }
	eventsDone   struct{}
	startedMsg   struct{ err error }
	sentMsg      struct{ err error }
	recordingMsg struct{ err error }
	playedMsg    struct{ err error }
	levelTick    struct{}
)

type stoppedMsg struct {
	res vai.StopResult
	err error
}

type callModel struct {
	ctx context.Context
	sim simulator

	header   string
	color    string
	messages []types.Message
	input    string

	started    bool
	typing     bool
	speaking   bool
	recording  bool
	transcript string
	level      float64
	speakingID string

	status string
	err    string
	width  int
}

func newCallModel(ctx context.Context, sim simulator) callModel {
	return callModel{
		ctx:    ctx,
		sim:    sim,
		status: "Connecting...",
	}
}

func (m callModel) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), waitEventCmd(m.sim.Events()))
}

func waitEventCmd(events <-chan vai.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsDone{}
		}
		return eventMsg{ev: ev}
	}
}

func (m callModel) startCmd() tea.Cmd {
	return func() tea.Msg { return startedMsg{err: m.sim.Start(m.ctx)} }
}

func (m callModel) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.sim.Send(m.ctx, text)
		return sentMsg{err: err}
	}
}

func (m callModel) recordCmd() tea.Cmd {
	return func() tea.Msg { return recordingMsg{err: m.sim.StartRecording(m.ctx)} }
}

func (m callModel) stopCmd() tea.Cmd {
	return func() tea.Msg {
		res, err := m.sim.StopRecording(m.ctx)
		return stoppedMsg{res: res, err: err}
	}
}

func (m callModel) playCmd(id string) tea.Cmd {
	return func() tea.Msg { return playedMsg{err: m.sim.Play(id)} }
}

func levelTickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return levelTick{} })
}

func (m callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
			m.status = "Not connected"
			return m, nil
		}
		m.started = true
		m.refresh()
		m.status = "Connected"
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		return m, nil

	case recordingMsg:
		if msg.err != nil {
			m.recording = false
			m.err = msg.err.Error()
			return m, nil
		}
		return m, levelTickCmd()

	case levelTick:
		if !m.recording {
			m.level = 0
			return m, nil
		}
		m.level = m.sim.Recording().Level
		return m, levelTickCmd()

	case stoppedMsg:
		m.recording = false
		m.transcript = ""
		switch {
		case msg.err != nil:
			m.err = msg.err.Error()
		case msg.res.UploadErr != nil:
			m.err = "recording not saved: " + msg.res.UploadErr.Error()
		case !msg.res.Sent && msg.res.Recording.Chunks > 0:
			m.err = "no speech recognized"
		}
		return m, nil

	case playedMsg:
		if msg.err != nil {
			m.err = msg.err.Error()
		}
		return m, nil

	case eventMsg:
		m.handleEvent(msg.ev)
		return m, waitEventCmd(m.sim.Events())

	case eventsDone:
		return m, tea.Quit
	}
	return m, nil
}

func (m callModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(m.input)
		if text == "" || !m.started {
			return m, nil
		}
		m.input = ""
		m.err = ""
		return m, m.sendCmd(text)

	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
		return m, nil

	case tea.KeyCtrlR:
		if !m.started {
			return m, nil
		}
		m.err = ""
		if m.recording {
			return m, m.stopCmd()
		}
		m.recording = true
		return m, m.recordCmd()

	case tea.KeyCtrlP:
		if id := m.sim.SpeakingMessage(); id != "" {
			m.sim.Pause(id)
			return m, nil
		}
		if id := lastAudioID(m.messages); id != "" {
			return m, m.playCmd(id)
		}
		return m, nil

	case tea.KeySpace:
		m.input += " "
		return m, nil

	case tea.KeyRunes:
		m.input += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m *callModel) handleEvent(ev vai.Event) {
	switch ev := ev.(type) {
	case vai.ChannelEvent:
		switch n := ev.Notification.(type) {
		case channel.SessionStarted, channel.AgentChanged:
			m.refresh()
		case channel.MessageAppended:
			m.messages = m.sim.Messages()
		case channel.TypingChanged:
			m.typing = n.Active
		case channel.ServerErrorReceived:
			m.err = n.Err.Error()
		case channel.TurnAbandoned:
			m.err = "no reply to your last message"
		case channel.ConnectionLost:
			m.started = false
			m.status = "Disconnected"
			m.err = n.Err.Error()
		}
	case vai.SpeakingChanged:
		m.speaking = ev.Speaking
		m.speakingID = ""
		if ev.Speaking {
			m.speakingID = m.sim.SpeakingMessage()
		}
	case vai.TranscriptChanged:
		m.transcript = ev.Text
	}
}

func (m *callModel) refresh() {
	m.header = m.sim.Header()
	m.color = m.sim.Brand().Color
	m.messages = m.sim.Messages()
}

func (m callModel) View() string {
	accent := lipgloss.Color(m.color)
	if m.color == "" {
		accent = lipgloss.Color("#819A91")
	}
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1)
	agentStyle := lipgloss.NewStyle().Foreground(accent).Bold(true)
	userStyle := lipgloss.NewStyle().Bold(true)
	dim := lipgloss.NewStyle().Faint(true)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#D9534F"))

	var b strings.Builder
	header := m.header
	if header == "" {
		header = "Call"
	}
	b.WriteString(headerStyle.Render(header))
	if m.speaking {
		b.WriteString(" " + agentStyle.Render("● speaking"))
	}
	b.WriteString("\n\n")

	for _, msg := range m.messages {
		switch msg.Role {
		case types.RoleUser:
			b.WriteString(userStyle.Render("You: ") + msg.Content + "\n")
		default:
			b.WriteString(agentStyle.Render(speakerName(m.header)+": ") + msg.Content)
			if msg.HasAudio() {
				b.WriteString(dim.Render(" ♪"))
			}
			if m.speaking && msg.ID == m.speakingID {
				b.WriteString(" " + agentStyle.Render("◀"))
			}
			b.WriteString("\n")
		}
	}
	if m.typing {
		b.WriteString(dim.Render(speakerName(m.header)+" is typing...") + "\n")
	}

	b.WriteString("\n")
	if m.recording {
		b.WriteString(errStyle.Render("● REC ") + levelMeter(m.level) + " " + m.transcript + "\n")
	} else {
		b.WriteString("> " + m.input + "\n")
	}
	if m.err != "" {
		b.WriteString(errStyle.Render(m.err) + "\n")
	}
	b.WriteString(dim.Render(fmt.Sprintf("%s · %s", m.status, tuiHelp)) + "\n")
	return b.String()
}

func levelMeter(level float64) string {
	const width = 10
	n := int(level*width*4 + 0.5) // speech rarely exceeds 0.25 RMS
	n = min(max(n, 0), width)
	return "[" + strings.Repeat("|", n) + strings.Repeat(" ", width-n) + "]"
}

// speakerName is the agent name from a "<name> - <company>" header.
func speakerName(header string) string {
	name, _, _ := strings.Cut(header, " - ")
	if name == "" {
		return "Agent"
	}
	return name
}

func runTUI(ctx context.Context, sim simulator, in io.Reader, out io.Writer) error {
	p := tea.NewProgram(newCallModel(ctx, sim),
		tea.WithContext(ctx),
		tea.WithInput(in),
		tea.WithOutput(out),
		tea.WithAltScreen(),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
