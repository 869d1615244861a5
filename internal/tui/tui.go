package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pebblescribe/internal/audio"
	"pebblescribe/internal/domain"
	"pebblescribe/internal/usecase"
)

// Controller is the subset of the session controller the interface drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (domain.StopResult, error)
	RecordFor(ctx context.Context, duration time.Duration, slack float64) (domain.StopResult, error)
	Status() domain.Status
}

// Options configures the interactive model.
type Options struct {
	Device          string
	DefaultDuration time.Duration
	Slack           float64
	MaxSegments     int
}

type mode int

const (
	modeMenu mode = iota
	modeDuration
)

const tickInterval = 250 * time.Millisecond

// Model is the bubbletea model for the interactive recorder.
type Model struct {
	ctx    context.Context
	ctrl   Controller
	events <-chan tea.Msg
	opts   Options

	mode  mode
	input string
	busy  bool

	// cancelTimed ends a timed recording early.
	cancelTimed context.CancelFunc

	state      domain.SessionState
	statusLine string
	errLine    string
	bytes      int
	startedAt  time.Time
	elapsed    time.Duration
	segments   []domain.TranscriptSegment
	final      *domain.StopResult
	width      int
}

// New builds a model reading backend events from events.
func New(ctx context.Context, ctrl Controller, events <-chan tea.Msg, opts Options) Model {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 15 * time.Second
	}
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = 8
	}
	return Model{
		ctx:        ctx,
		ctrl:       ctrl,
		events:     events,
		opts:       opts,
		state:      domain.SessionStateIdle,
		statusLine: "Ready",
	}
}

// NewProgram wraps m in a full-screen program.
func NewProgram(m Model) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return msg
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		if m.state == domain.SessionStateRecording {
			if !m.startedAt.IsZero() {
				m.elapsed = time.Since(m.startedAt)
			}
			m.bytes = m.ctrl.Status().BytesReceived
		}
		return m, tick()

	case StateMsg:
		m.state = msg.State
		if msg.Message != "" {
			m.statusLine = msg.Message
		}
		if msg.State == domain.SessionStateRecording {
			m.startedAt = time.Now()
			m.elapsed = 0
			m.bytes = 0
			m.segments = nil
			m.final = nil
			m.errLine = ""
		}
		return m, waitForEvent(m.events)

	case ProgressMsg:
		m.bytes = msg.Bytes
		return m, waitForEvent(m.events)

	case PartialMsg:
		m.segments = append(m.segments, msg.Segment)
		if over := len(m.segments) - m.opts.MaxSegments; over > 0 {
			m.segments = m.segments[over:]
		}
		return m, waitForEvent(m.events)

	case FinalMsg:
		result := msg.Result
		m.final = &result
		return m, waitForEvent(m.events)

	case ErrorMsg:
		m.errLine = msg.Message
		if msg.Detail != "" && msg.Detail != msg.Message {
			m.errLine += ": " + msg.Detail
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		return m, nil

	case commandDoneMsg:
		m.busy = false
		if msg.op == "timed" && m.cancelTimed != nil {
			m.cancelTimed()
			m.cancelTimed = nil
		}
		if msg.err != nil {
			m.errLine = commandError(msg.op, msg.err)
		}
		if msg.result != nil {
			m.bytes = msg.result.BytesRecorded
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	if m.mode == modeDuration {
		return m.handleDurationKey(msg)
	}

	switch msg.String() {
	case "q":
		if m.cancelTimed != nil {
			m.cancelTimed()
		}
		return m, tea.Quit
	case "1":
		if m.busy || m.state != domain.SessionStateIdle {
			m.errLine = "A recording is already in progress"
			return m, nil
		}
		m.busy = true
		return m, m.startCmd()
	case "2":
		if m.cancelTimed != nil {
			m.cancelTimed()
			return m, nil
		}
		if m.state != domain.SessionStateRecording {
			m.errLine = "Not currently recording"
			return m, nil
		}
		m.busy = true
		return m, m.stopCmd()
	case "3":
		if m.busy || m.state != domain.SessionStateIdle {
			m.errLine = "A recording is already in progress"
			return m, nil
		}
		m.mode = modeDuration
		m.input = ""
	}
	return m, nil
}

func (m Model) handleDurationKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeMenu
		m.input = ""
		return m, nil
	case tea.KeyEnter:
		duration := usecase.ParseRecordDuration(m.input, m.opts.DefaultDuration)
		m.mode = modeMenu
		m.input = ""
		m.busy = true
		ctx, cancel := context.WithCancel(m.ctx)
		m.cancelTimed = cancel
		return m, m.timedCmd(ctx, duration)
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil
	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if (r >= '0' && r <= '9') || r == '.' {
				m.input += string(r)
			}
		}
	}
	return m, nil
}

func (m Model) startCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return commandDoneMsg{op: "start", err: ctrl.Start(ctx)}
	}
}

func (m Model) stopCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		result, err := ctrl.Stop(ctx)
		return commandDoneMsg{op: "stop", result: &result, err: err}
	}
}

func (m Model) timedCmd(ctx context.Context, duration time.Duration) tea.Cmd {
	ctrl, slack := m.ctrl, m.opts.Slack
	return func() tea.Msg {
		result, err := ctrl.RecordFor(ctx, duration, slack)
		return commandDoneMsg{op: "timed", result: &result, err: err}
	}
}

func commandError(op string, err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyActive):
		return "A recording is already in progress"
	case errors.Is(err, domain.ErrNotRecording):
		return "Not currently recording"
	case errors.Is(err, domain.ErrNoAudio):
		return "No audio data to save"
	case errors.Is(err, domain.ErrNotConnected):
		return "Not connected to any device"
	}
	return fmt.Sprintf("%s failed: %v", op, err)
}

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Bold(true)
	recStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	finalizeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	idleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	textStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("pebblescribe"))
	if m.opts.Device != "" {
		b.WriteString(dimStyle.Render("  " + m.opts.Device))
	}
	b.WriteString("\n\n")

	b.WriteString(m.stateBadge())
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(m.statusLine))
	b.WriteString("\n")

	if m.state != domain.SessionStateIdle || m.bytes > 0 {
		seconds := float64(m.bytes) / float64(audio.BytesPerSample*audio.SampleRate)
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d bytes received (%.1fs of audio)", m.bytes, seconds)))
		if m.state == domain.SessionStateRecording {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  elapsed %s", m.elapsed.Truncate(time.Second))))
		}
		b.WriteString("\n")
	}

	if m.errLine != "" {
		b.WriteString(errStyle.Render(m.errLine))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	width := m.width - 4
	if width < 20 {
		width = 76
	}
	if len(m.segments) > 0 {
		b.WriteString(titleStyle.Render("Transcript so far"))
		b.WriteString("\n")
		for _, seg := range m.segments {
			b.WriteString(textStyle.Width(width).Render(seg.Text))
			b.WriteString("\n")
		}
	} else if m.state == domain.SessionStateRecording {
		b.WriteString(dimStyle.Italic(true).Render("Listening..."))
		b.WriteString("\n")
	}

	if m.final != nil {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Full transcript"))
		b.WriteString("\n")
		text := m.final.FinalTranscript
		if text == "" {
			text = "(empty)"
		}
		b.WriteString(textStyle.Width(width).Render(text))
		b.WriteString("\n")
		for _, kind := range []domain.ArtifactKind{
			domain.ArtifactRawAudio,
			domain.ArtifactAmplifiedAudio,
			domain.ArtifactFinalTranscript,
			domain.ArtifactRealtimeTranscript,
		} {
			if path, ok := m.final.Artifacts[kind]; ok {
				b.WriteString(dimStyle.Render(fmt.Sprintf("  %-20s %s", kind, path)))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	if m.mode == modeDuration {
		prompt := fmt.Sprintf("Recording duration in seconds (default %g): %s", m.opts.DefaultDuration.Seconds(), m.input)
		b.WriteString(prompt)
		b.WriteString(helpStyle.Render("  enter to record, esc to cancel"))
	} else {
		b.WriteString(helpKeyStyle.Render("1") + helpStyle.Render(" start  "))
		b.WriteString(helpKeyStyle.Render("2") + helpStyle.Render(" stop  "))
		b.WriteString(helpKeyStyle.Render("3") + helpStyle.Render(" record for duration  "))
		b.WriteString(helpKeyStyle.Render("q") + helpStyle.Render(" quit"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) stateBadge() string {
	switch m.state {
	case domain.SessionStateRecording:
		return recStyle.Render("● REC")
	case domain.SessionStateFinalizing:
		return finalizeStyle.Render("◌ FINALIZING")
	default:
		return idleStyle.Render("○ IDLE")
	}
}
