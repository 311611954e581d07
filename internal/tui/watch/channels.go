package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
)

// ChannelState is the dashboard's view of one channel.
type ChannelState struct {
	ID      string
	Type    string
	Enabled bool

	// Sent comes from the ledger; Failed only counts failures seen since
	// the dashboard connected, since the ledger records successes alone.
	Sent   int64
	Failed int

	LastOutcome string
	LastReason  string
	LastAt      time.Time
	Probe       string
}

func upsertChannel(states map[string]*ChannelState, id string) *ChannelState {
	st, ok := states[id]
	if !ok {
		st = &ChannelState{ID: id}
		states[id] = st
	}
	return st
}

// applyChannels syncs the channel list, dropping channels no longer configured.
func applyChannels(states map[string]*ChannelState, chans []channel.Channel) {
	keep := make(map[string]bool, len(chans))
	for _, ch := range chans {
		keep[ch.ID] = true
		st := upsertChannel(states, ch.ID)
		st.Type = string(ch.Type)
		st.Enabled = ch.Enabled
	}
	for id := range states {
		if !keep[id] {
			delete(states, id)
		}
	}
}

func applyStats(states map[string]*ChannelState, stats ledger.Statistics) {
	for id, n := range stats.Channels {
		if st, ok := states[id]; ok {
			st.Sent = n
		}
	}
}

// applyEvent folds one hub event into channel state.
func applyEvent(states map[string]*ChannelState, e events.Event, now time.Time) {
	var data struct {
		Channel   string `json:"channel"`
		ChannelID string `json:"channel_id"`
		Type      string `json:"type"`
		Enabled   bool   `json:"enabled"`
		Success   bool   `json:"success"`
		Reason    string `json:"reason"`
	}
	_ = json.Unmarshal(e.Data, &data)

	id := data.Channel
	if id == "" {
		id = data.ChannelID
	}
	if id == "" {
		return
	}

	switch e.Type {
	case events.NotificationSent:
		st := upsertChannel(states, id)
		st.Sent++
		st.LastOutcome, st.LastReason, st.LastAt = "sent", "", now
	case events.NotificationFailed:
		// Unknown channels fail too; they have no row to update.
		st, ok := states[id]
		if !ok {
			return
		}
		st.Failed++
		st.LastOutcome, st.LastReason, st.LastAt = "failed", data.Reason, now
	case events.ChannelUpdated:
		st := upsertChannel(states, id)
		st.Type = data.Type
		st.Enabled = data.Enabled
	case events.ChannelRemoved:
		delete(states, id)
	case events.ChannelTested:
		st, ok := states[id]
		if !ok {
			return
		}
		if data.Success {
			st.Probe = "ok"
		} else {
			st.Probe = "failed"
		}
	}
}

func sortedChannels(states map[string]*ChannelState) []*ChannelState {
	out := make([]*ChannelState, 0, len(states))
	for _, st := range states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func renderChannels(states map[string]*ChannelState, selected int, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	rows := sortedChannels(states)
	if len(rows) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("CHANNELS"),
			theme.Dim.Render("  No channels configured"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	header := theme.Header.Render(fmt.Sprintf("  %-20s %-8s %8s %7s  %-22s %s", "ID", "TYPE", "SENT", "FAILED", "LAST", "PROBE"))
	lines := []string{header}
	for i, st := range rows {
		cursor := "  "
		if i == selected {
			cursor = theme.Highlight.Render("▸ ")
		}

		id := fmt.Sprintf("%-20s", truncate(st.ID, 20))
		if !st.Enabled {
			id = theme.StatusDisabled.Render(id)
		}

		last := theme.Dim.Render(fmt.Sprintf("%-22s", "-"))
		if !st.LastAt.IsZero() {
			text := fmt.Sprintf("%s %s ago", st.LastOutcome, now.Sub(st.LastAt).Round(time.Second))
			if st.LastReason != "" {
				text = fmt.Sprintf("%s (%s)", st.LastOutcome, st.LastReason)
			}
			style := theme.StatusOK
			if st.LastOutcome == "failed" {
				style = theme.StatusFailed
			}
			last = style.Render(fmt.Sprintf("%-22s", truncate(text, 22)))
		}

		probe := theme.Dim.Render("-")
		switch st.Probe {
		case "ok":
			probe = theme.StatusOK.Render("ok")
		case "failed":
			probe = theme.StatusFailed.Render("failed")
		}

		lines = append(lines, fmt.Sprintf("%s%s %-8s %8d %7d  %s %s",
			cursor, id, st.Type, st.Sent, st.Failed, last, probe))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("CHANNELS"),
		strings.Join(lines, "\n"),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
