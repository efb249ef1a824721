// Package ui renders a terminal dashboard for the playback engine.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/lookout/internal/playback"
	"github.com/zsiec/lookout/internal/stream"
)

// Controller is the engine surface driven from the keyboard.
type Controller interface {
	Pause() error
	Resume() error
	GoLive() error
	Replay() error
	FrameByFrame(dir stream.Direction) error
	Skip(dir stream.Direction) error
	ChangePlaybackRate(rate float64, dir stream.Direction) error
	State() stream.VideoState
	Snapshot() (playback.Snapshot, error)
	Subscribe() (<-chan stream.VideoState, func())
}

const refreshInterval = 250 * time.Millisecond

// Messages
type tickMsg time.Time
type stateMsg stream.VideoState
type closedMsg struct{}

// Model is the dashboard tea.Model.
type Model struct {
	ctl    Controller
	states <-chan stream.VideoState
	cancel func()

	state    stream.VideoState
	snap     playback.Snapshot
	lastErr  error
	width    int
	quitting bool
}

// NewModel subscribes to ctl. The subscription ends when the model quits.
func NewModel(ctl Controller) *Model {
	states, cancel := ctl.Subscribe()
	return &Model{
		ctl:    ctl,
		states: states,
		cancel: cancel,
		state:  ctl.State(),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.states),
		tickEvery(refreshInterval),
	)
}

func waitForState(ch <-chan stream.VideoState) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return stateMsg(st)
	}
}

func tickEvery(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case stateMsg:
		m.state = stream.VideoState(msg)
		return m, waitForState(m.states)

	case closedMsg:
		return m.quit()

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		if snap, err := m.ctl.Snapshot(); err == nil {
			m.snap = snap
		}
		return m, tickEvery(refreshInterval)
	}

	return m, nil
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	if !m.quitting {
		m.quitting = true
		m.cancel()
	}
	return m, tea.Quit
}

func (m *Model) handleKey(key string) (tea.Model, tea.Cmd) {
	var err error
	switch key {
	case "q", "ctrl+c":
		return m.quit()
	case " ":
		switch {
		case m.state.AwaitingReplay:
			err = m.ctl.Replay()
		case m.state.IsPlaying:
			err = m.ctl.Pause()
		default:
			err = m.ctl.Resume()
		}
	case "l":
		err = m.ctl.GoLive()
	case "r":
		err = m.ctl.Replay()
	case "left":
		err = m.ctl.FrameByFrame(stream.Backward)
	case "right":
		err = m.ctl.FrameByFrame(stream.Forward)
	case "[":
		err = m.ctl.Skip(stream.Backward)
	case "]":
		err = m.ctl.Skip(stream.Forward)
	case "1", "2", "4", "8":
		err = m.ctl.ChangePlaybackRate(float64(key[0]-'0'), m.state.Direction)
	case "b":
		dir := stream.Backward
		if m.state.Direction == stream.Backward {
			dir = stream.Forward
		}
		err = m.ctl.ChangePlaybackRate(m.state.PlaybackRate, dir)
	default:
		return m, nil
	}
	m.lastErr = err
	return m, nil
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Shutting down dashboard...\n"
	}

	header := HeaderStyle.Render("LOOKOUT  " + ModeBadge(string(m.state.Mode)) + "  " + StatusBadge(string(m.state.Status)))

	panels := lipgloss.JoinHorizontal(lipgloss.Top,
		m.playbackPanel(), " ", m.sessionPanel(), " ", m.metadataPanel())

	sections := []string{header, panels}
	if m.state.StatusText != "" {
		sections = append(sections, ErrorStyle.Render(m.state.StatusText))
	}
	if m.lastErr != nil {
		sections = append(sections, WarningStyle.Render(m.lastErr.Error()))
	}
	sections = append(sections, MutedStyle.Render(
		"space play/pause  l live  r replay  ←/→ frame  [/] skip  1/2/4/8 rate  b direction  q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func panel(title string, rows ...string) string {
	body := append([]string{PanelTitleStyle.Render(title)}, rows...)
	return PanelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

func (m *Model) playbackPanel() string {
	st := m.state
	playing := "paused"
	switch {
	case st.AwaitingReplay:
		playing = "ended"
	case st.IsFrameStepping:
		playing = "stepping"
	case st.IsPlaying:
		playing = "playing"
	}
	return panel("Playback",
		row("state", playing),
		row("rate", fmt.Sprintf("%gx %s", st.PlaybackRate, st.Direction)),
		row("position", formatPosition(m.snap.Recovery.LastKnownPlayPosition)),
		row("media", fmt.Sprintf("%.2fs", m.snap.Position)),
	)
}

func (m *Model) sessionPanel() string {
	s := m.snap
	rec := s.RecoveryState
	if s.Recovery.Attempts > 0 {
		rec = fmt.Sprintf("%s (%d)", rec, s.Recovery.Attempts)
	}
	return panel("Session",
		row("site", fmt.Sprintf("%d/%d", s.Options.SiteID, s.Options.ChannelID)),
		row("transport", orDash(s.Transport)),
		row("codec", orDash(shortCodec(s.Codec))),
		row("buffer", fmt.Sprintf("%.1fs ahead, %d queued", s.Buffer.Ahead, s.Buffer.Queued)),
		row("recovery", orDash(rec)),
	)
}

func (m *Model) metadataPanel() string {
	md := m.snap.Metadata
	if md == nil {
		return panel("Analytics", MutedStyle.Render("no frame metadata"))
	}
	return panel("Analytics",
		row("frame", fmt.Sprintf("%d", md.FrameID)),
		row("people", fmt.Sprintf("%d", md.PeopleCount)),
		row("vehicles", fmt.Sprintf("%d", md.VehicleCount)),
		row("objects", fmt.Sprintf("%d", len(md.ObjectList))),
		row("indexed", fmt.Sprintf("%d", m.snap.IndexEntries)),
	)
}

func formatPosition(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05.000")
}

func shortCodec(codec string) string {
	if i := strings.Index(codec, "codecs="); i >= 0 {
		return strings.Trim(codec[i+len("codecs="):], `"`)
	}
	return codec
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
