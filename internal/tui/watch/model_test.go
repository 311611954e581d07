package watch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
)

func event(id int64, typ string, data any) events.Event {
	raw, _ := json.Marshal(data)
	return events.Event{ID: id, Type: typ, At: time.Unix(0, 0), Data: raw}
}

func newTestModel() Model {
	m := *New("http://127.0.0.1:0", "key")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return fixed }
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: notification.sent",
		`data: {"channel":"ops","message_id":"m-1"}`,
		"",
		"id: 8",
		"event: channel.removed",
		`data: {"channel_id":"old"}`,
		"",
	}, "\n")

	var got []events.Event
	readSSE(strings.NewReader(stream), func(e events.Event) { got = append(got, e) })

	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.NotificationSent, got[0].Type)
	assert.JSONEq(t, `{"channel":"ops","message_id":"m-1"}`, string(got[0].Data))
	assert.Equal(t, events.ChannelRemoved, got[1].Type)
}

func TestApplyEvent(t *testing.T) {
	now := time.Now()
	states := make(map[string]*ChannelState)

	applyEvent(states, event(1, events.ChannelUpdated, map[string]any{"channel_id": "ops", "type": "email", "enabled": true}), now)
	require.Contains(t, states, "ops")
	assert.Equal(t, "email", states["ops"].Type)
	assert.True(t, states["ops"].Enabled)

	applyEvent(states, event(2, events.NotificationSent, map[string]any{"success": true, "channel": "ops"}), now)
	assert.Equal(t, int64(1), states["ops"].Sent)
	assert.Equal(t, "sent", states["ops"].LastOutcome)

	applyEvent(states, event(3, events.NotificationFailed, map[string]any{"channel": "ops", "reason": "transport"}), now)
	assert.Equal(t, 1, states["ops"].Failed)
	assert.Equal(t, "transport", states["ops"].LastReason)

	applyEvent(states, event(4, events.NotificationFailed, map[string]any{"channel": "ghost", "reason": "channel_not_found"}), now)
	assert.NotContains(t, states, "ghost")

	applyEvent(states, event(5, events.ChannelTested, map[string]any{"channel_id": "ops", "success": false}), now)
	assert.Equal(t, "failed", states["ops"].Probe)

	applyEvent(states, event(6, events.ChannelRemoved, map[string]any{"channel_id": "ops"}), now)
	assert.Empty(t, states)
}

func TestApplyChannelsAndStats(t *testing.T) {
	states := map[string]*ChannelState{"gone": {ID: "gone"}}
	applyChannels(states, []channel.Channel{
		{ID: "b", Type: channel.TypeSMS, Enabled: true},
		{ID: "a", Type: channel.TypeWebhook},
	})
	assert.NotContains(t, states, "gone")

	applyStats(states, ledger.Statistics{TotalSent: 5, Channels: map[string]int64{"a": 2, "b": 3, "removed": 9}})
	assert.Equal(t, int64(2), states["a"].Sent)
	assert.Equal(t, int64(3), states["b"].Sent)
	assert.NotContains(t, states, "removed")

	rows := sortedChannels(states)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
}

func TestUpdateTracksDeliveries(t *testing.T) {
	m := newTestModel()
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, channelsMsg{{ID: "ops", Type: channel.TypeEmail, Enabled: true}})
	m = update(t, m, statsMsg{TotalSent: 4, Channels: map[string]int64{"ops": 4}})
	m = update(t, m, healthMsg{Status: "ok", Channels: 1, ChannelsEnabled: 1, Templates: 2})

	assert.True(t, m.health.Connected)
	assert.Equal(t, int64(4), m.health.TotalSent)

	m = update(t, m, eventMsg(event(1, events.NotificationSent, map[string]any{"channel": "ops", "message_id": "abcdef123456"})))
	assert.Equal(t, int64(5), m.health.TotalSent)
	assert.Equal(t, int64(5), m.channels["ops"].Sent)
	assert.Len(t, m.eventLog, 1)
	assert.Equal(t, 5, m.pulse.Dots())

	view := m.View()
	assert.Contains(t, view, "COURIER WATCH")
	assert.Contains(t, view, "ops")
	assert.Contains(t, view, "notification.sent")
	assert.Contains(t, view, "[abcdef12]")
}

func TestUpdateEventLogIsBounded(t *testing.T) {
	m := newTestModel()
	for i := 0; i < eventLogSize+10; i++ {
		m = update(t, m, eventMsg(event(int64(i), events.TemplateAdded, map[string]any{"template_id": "t"})))
	}
	assert.Len(t, m.eventLog, eventLogSize)
	assert.Equal(t, int64(eventLogSize+9), m.eventLog[0].ID)
}

func TestUpdateDisconnect(t *testing.T) {
	m := newTestModel()
	m = update(t, m, healthMsg{Status: "ok"})
	m = update(t, m, sseDisconnectedMsg{})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.lastError, "reconnecting")
}

func TestUpdateQuit(t *testing.T) {
	m := newTestModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestViewBeforeResize(t *testing.T) {
	assert.Equal(t, "Connecting to courier...", newTestModel().View())
}

func TestPulseDecay(t *testing.T) {
	start := time.Now()
	var p Pulse
	p.OnEvent(start)
	p.Decay(start.Add(3 * time.Second))
	assert.Equal(t, 4, p.Dots())
	p.Decay(start.Add(11 * time.Second))
	assert.Equal(t, 0, p.Dots())
}

func TestClientFetches(t *testing.T) {
	var probed string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/healthz":
			_, _ = w.Write([]byte(`{"status":"ok","uptime_seconds":61,"channels":2,"channels_enabled":1,"templates":3}`))
		case r.URL.Path == "/statistics":
			_, _ = w.Write([]byte(`{"total_sent":7,"channels":{"ops":7}}`))
		case r.URL.Path == "/channels":
			_, _ = w.Write([]byte(`{"channels":[{"id":"ops","type":"email","enabled":true}]}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/test"):
			probed = r.URL.Path
			_, _ = w.Write([]byte(`{"success":true,"channel_id":"ops"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := client{apiURL: srv.URL, apiKey: "key", http: srv.Client()}

	h, ok := fetchHealth(c).(healthMsg)
	require.True(t, ok)
	assert.Equal(t, int64(61), h.UptimeSeconds)
	assert.Equal(t, 3, h.Templates)

	s, ok := fetchStats(c).(statsMsg)
	require.True(t, ok)
	assert.Equal(t, int64(7), s.Channels["ops"])

	chans, ok := fetchChannels(c).(channelsMsg)
	require.True(t, ok)
	require.Len(t, chans, 1)
	assert.Equal(t, channel.TypeEmail, chans[0].Type)

	m := newTestModel()
	m.client = c
	msg := m.testChannel("ops")()
	assert.Equal(t, probeSentMsg{id: "ops"}, msg)
	assert.Equal(t, "/channels/ops/test", probed)

	bad := client{apiURL: srv.URL, apiKey: "wrong", http: srv.Client()}
	_, isErr := fetchHealth(bad).(errMsg)
	assert.True(t, isErr)
}
