package watch

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
)

const pollInterval = 5 * time.Second

type pollMsg struct{}

type probeSentMsg struct{ id string }

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client client

	width  int
	height int

	health    HealthState
	channels  map[string]*ChannelState
	eventLog  []events.Event
	pulse     Pulse
	spinner   spinner.Model
	theme     Theme
	selected  int
	hubEvents chan events.Event
	lastError string

	now func() time.Time
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		client: client{
			apiURL: apiURL,
			apiKey: apiKey,
			http:   &http.Client{Timeout: 2 * time.Second},
		},
		channels:  make(map[string]*ChannelState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		spinner:   newActivitySpinner(theme),
		theme:     theme,
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.poll(),
		nextPoll(),
		m.spinner.Tick,
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func nextPoll() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m Model) poll() tea.Cmd {
	c := m.client
	return tea.Batch(
		func() tea.Msg { return fetchHealth(c) },
		func() tea.Msg { return fetchStats(c) },
		func() tea.Msg { return fetchChannels(c) },
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.channels)-1 {
				m.selected++
			}
		case "r":
			return m, m.poll()
		case "t":
			rows := sortedChannels(m.channels)
			if m.selected < len(rows) {
				return m, m.testChannel(rows[m.selected].ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.pulse.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case pollMsg:
		return m, tea.Batch(m.poll(), nextPoll())

	case eventMsg:
		e := events.Event(msg)
		now := m.now()

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}

		m.pulse.OnEvent(now)
		applyEvent(m.channels, e, now)
		if e.Type == events.NotificationSent {
			m.health.TotalSent++
		}
		if m.selected >= len(m.channels) && m.selected > 0 {
			m.selected = len(m.channels) - 1
		}

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Channels = msg.Channels
		m.health.ChannelsEnabled = msg.ChannelsEnabled
		m.health.Templates = msg.Templates
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""

	case statsMsg:
		m.health.TotalSent = msg.TotalSent
		applyStats(m.channels, ledger.Statistics(msg))

	case channelsMsg:
		applyChannels(m.channels, msg)
		if m.selected >= len(m.channels) {
			m.selected = max(len(m.channels)-1, 0)
		}

	case probeSentMsg:
		m.lastError = ""

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps waiting on hubEvents and picks
		// up events from the new subscription.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) testChannel(id string) tea.Cmd {
	c := m.client
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodPost, c.apiURL+"/channels/"+url.PathEscape(id)+"/test", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		resp, err := c.http.Do(req)
		if err != nil {
			return errMsg(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("test %s: HTTP %d", id, resp.StatusCode))
		}
		// The outcome arrives as a channel.tested event.
		return probeSentMsg{id: id}
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to courier..."
	}

	now := m.now()
	spin := m.spinner.View()
	if !m.health.Connected {
		spin = m.theme.Dim.Render("·")
	}

	header := renderHeader(m.health, spin, m.pulse, m.theme, m.width, now)
	chans := renderChannels(m.channels, m.selected, m.theme, m.width, now)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, chans, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select • [t] Test channel • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
