// Package transport delivers rendered messages over the wire protocols a
// channel type speaks.
//
// Each Transport is stateless with respect to channels: the channel record
// (and therefore its credentials) travels with every call, so registry
// updates take effect on the next send without rebuilding transports.
package transport

//go:generate mockgen -source=transport.go -destination=mocks/mock_transport.go -package=mocks

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/courier/internal/channel"
)

const (
	DefaultTimeout = 10 * time.Second
	userAgent      = "courier/1"
)

// Message is a fully rendered notification addressed to one channel.
type Message struct {
	Channel    channel.Channel
	Recipients []string
	Subject    string
	Content    string
}

// Transport sends messages for one channel type.
//
// Send must make exactly one delivery attempt. Probe connects and
// authenticates without sending anything.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Probe(ctx context.Context, ch channel.Channel) error
}

// Set maps channel types to their transport.
type Set map[channel.Type]Transport

// For returns the transport registered for t.
func (s Set) For(t channel.Type) (Transport, bool) {
	tr, ok := s[t]
	return tr, ok && tr != nil
}

// Options configures the wire transports built by New.
type Options struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// New builds the standard transport for every channel type.
func New(opts Options) Set {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}

	return Set{
		channel.TypeEmail:   NewEmail(timeout, logger),
		channel.TypeSMS:     NewSMS(client, logger),
		channel.TypeWebhook: NewWebhook(client, logger),
		channel.TypePush:    NewPush(client, logger),
	}
}

// DryRun routes every channel type to rec.
func DryRun(rec *Recorder) Set {
	set := make(Set, len(channel.Types()))
	for _, t := range channel.Types() {
		set[t] = rec
	}
	return set
}
