package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattjoyce/courier/internal/channel"
)

// Recorder accepts every message without touching the network. It backs
// dry-run mode.
type Recorder struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []Message
}

func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()

	r.logger.Info("dry-run send",
		"channel_id", msg.Channel.ID,
		"channel_type", string(msg.Channel.Type),
		"recipients", len(msg.Recipients),
		"subject", msg.Subject,
	)
	return nil
}

func (r *Recorder) Probe(_ context.Context, ch channel.Channel) error {
	r.logger.Info("dry-run probe", "channel_id", ch.ID)
	return nil
}

// Sent returns a copy of every recorded message in arrival order.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
