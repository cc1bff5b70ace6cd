package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jvasek/meshbot/internal/api"
	"github.com/jvasek/meshbot/internal/sysinfo"
)

const (
	pollEvery    = 3 * time.Second
	maxNodeLines = 12
)

type pollMsg time.Time

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	status    api.StatusResponse
	nodes     []api.NodeResponse
	connected bool
	lastError string
	lastPoll  time.Time

	spinner spinner.Model
	theme   Theme
}

// New creates the watch model pointed at a running bot's status API.
func New(apiURL, apiKey string) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &Model{
		apiURL:  strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		spinner: sp,
		theme:   NewDefaultTheme(),
	}
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL, apiKey string) error {
	_, err := tea.NewProgram(New(apiURL, apiKey)).Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		fetchStatus(m.apiURL, m.apiKey),
		fetchNodes(m.apiURL, m.apiKey),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(fetchStatus(m.apiURL, m.apiKey), fetchNodes(m.apiURL, m.apiKey))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statusMsg:
		m.status = api.StatusResponse(msg)
		m.connected = true
		m.lastError = ""
		m.lastPoll = time.Now()
		return m, tea.Tick(pollEvery, func(t time.Time) tea.Msg { return pollMsg(t) })

	case nodesMsg:
		m.nodes = msg

	case pollMsg:
		return m, tea.Batch(fetchStatus(m.apiURL, m.apiKey), fetchNodes(m.apiURL, m.apiKey))

	case errMsg:
		m.connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(pollEvery, func(t time.Time) tea.Msg { return pollMsg(t) })

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	sections := []string{
		m.renderHeader(),
		m.renderStatus(width),
		m.renderNodes(width),
	}
	if m.lastError != "" {
		sections = append(sections, m.theme.StatusFailed.Render("  "+m.lastError))
	}
	sections = append(sections, m.theme.Dim.Render("  q quit · r refresh"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	state := m.theme.StatusFailed.Render("● offline")
	if m.connected {
		state = m.theme.StatusOK.Render("● connected")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.Title.Render("MESHBOT WATCH"),
		m.spinner.View(),
		" ",
		state,
		m.theme.Dim.Render("  "+m.apiURL),
	)
}

func (m *Model) renderStatus(width int) string {
	s := m.status
	lines := []string{
		fmt.Sprintf("%s %d    %s %s",
			m.theme.Header.Render("channel"), s.Channel,
			m.theme.Header.Render("uptime"), sysinfo.FormatDuration(time.Duration(s.UptimeSeconds)*time.Second)),
		fmt.Sprintf("%s %d    %s %d ok",
			m.theme.Header.Render("commands"), s.Commands,
			m.theme.Header.Render("plugins"), s.PluginsLoaded),
		fmt.Sprintf("%s %d recipients, %d pending",
			m.theme.Header.Render("mailbox"), s.MailboxRecipients, s.MailboxPending),
	}
	if s.HasTelemetry {
		lines = append(lines, fmt.Sprintf("%s tx %.1f%%  rx %.1f%%  util %.1f%%",
			m.theme.Header.Render("airtime"), s.TxAirtimePct, s.RxAirtimePct, s.ChannelUtilPct))
	} else {
		lines = append(lines, m.theme.Dim.Render("airtime: no sample yet"))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("STATUS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return m.theme.Border.Width(width - 4).Render(content)
}

func (m *Model) renderNodes(width int) string {
	if len(m.nodes) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("NODES"),
			m.theme.Dim.Render("  No nodes seen yet..."),
		)
		return m.theme.Border.Width(width - 4).Render(content)
	}

	var lines []string
	for i, n := range m.nodes {
		if i >= maxNodeLines {
			lines = append(lines, m.theme.Dim.Render(fmt.Sprintf("  … %d more", len(m.nodes)-i)))
			break
		}
		name := n.ShortName
		if name == "" {
			name = n.LongName
		}
		if name == "" {
			name = "(unnamed)"
		}
		lines = append(lines, fmt.Sprintf("  %s %s  %s",
			m.theme.Highlight.Render(n.ID),
			name,
			m.theme.Dim.Render("seen "+n.LastSeen.Format("15:04:05"))))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("NODES"),
		strings.Join(lines, "\n"),
	)
	return m.theme.Border.Width(width - 4).Render(content)
}
