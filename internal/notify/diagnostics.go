package notify

import (
	"context"
	"fmt"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
)

// TestResult is the outcome of a channel probe.
type TestResult struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channel_id"`
	Error     string `json:"error,omitempty"`
}

// TestChannel probes the channel's transport without sending a message.
// Disabled channels are probed too. The ledger is never touched.
func (s *Service) TestChannel(ctx context.Context, channelID string) TestResult {
	ch, ok := s.channels.Get(channelID)
	if !ok {
		return TestResult{ChannelID: channelID, Error: "Channel not found"}
	}

	err := s.probe(ctx, ch)
	channelProbesTotal.WithLabelValues(string(ch.Type), outcome(err == nil)).Inc()

	res := TestResult{Success: err == nil, ChannelID: ch.ID}
	if err != nil {
		res.Error = err.Error()
		s.logger.Warn("channel probe failed", "channel_id", ch.ID, "error", err)
	} else {
		s.logger.Info("channel probe ok", "channel_id", ch.ID)
	}
	s.events.Publish(events.ChannelTested, res)
	return res
}

func (s *Service) probe(ctx context.Context, ch channel.Channel) (err error) {
	tr, ok := s.transports.For(ch.Type)
	if !ok {
		return fmt.Errorf("no transport for channel type %q", ch.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return tr.Probe(ctx, ch)
}
