package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Channels        int    `json:"channels"`
	ChannelsEnabled int    `json:"channels_enabled"`
	Templates       int    `json:"templates"`
}

type statsMsg ledger.Statistics

type channelsMsg []channel.Channel

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// client talks to a running courier API.
type client struct {
	apiURL string
	apiKey string
	http   *http.Client
}

func (c client) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.apiURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(c client, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, c.apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "text/event-stream")

		// No client timeout: the stream is long-lived.
		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("GET /events: HTTP %d", resp.StatusCode))
		}

		readSSE(resp.Body, func(e events.Event) { ch <- e })
		return sseDisconnectedMsg{}
	}
}

// readSSE parses an event stream, calling emit for each complete event.
// Comment lines (keep-alives) are ignored.
func readSSE(r io.Reader, emit func(events.Event)) {
	scanner := bufio.NewScanner(r)
	var (
		id   int64
		typ  string
		data strings.Builder
	)

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 || typ != "" {
				emit(events.Event{
					ID:   id,
					Type: typ,
					At:   time.Now(),
					Data: json.RawMessage(data.String()),
				})
			}
			id, typ = 0, ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if v, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				id = v
			}
		case strings.HasPrefix(line, "event: "):
			typ = line[7:]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c client) tea.Msg {
	var h healthMsg
	if err := c.get("/healthz", &h); err != nil {
		return errMsg(err)
	}
	return h
}

func fetchStats(c client) tea.Msg {
	var s ledger.Statistics
	if err := c.get("/statistics", &s); err != nil {
		return errMsg(err)
	}
	return statsMsg(s)
}

func fetchChannels(c client) tea.Msg {
	var body struct {
		Channels []channel.Channel `json:"channels"`
	}
	if err := c.get("/channels", &body); err != nil {
		return errMsg(err)
	}
	return channelsMsg(body.Channels)
}
