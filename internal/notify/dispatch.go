package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/transport"
)

// Reason classifies a failed Result.
type Reason string

const (
	ReasonChannelNotFound  Reason = "channel_not_found"
	ReasonChannelDisabled  Reason = "channel_disabled"
	ReasonTemplateNotFound Reason = "template_not_found"
	ReasonInvalidRequest   Reason = "invalid_request"
	ReasonRender           Reason = "render"
	ReasonTransport        Reason = "transport"
	ReasonLedger           Reason = "ledger"
)

// Request is one logical notification. When Template is set, Variables are
// rendered into it and Subject/Content are ignored.
type Request struct {
	ChannelID  string         `json:"channel_id"`
	Recipients []string       `json:"recipients"`
	Template   string         `json:"template,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Content    string         `json:"content,omitempty"`
}

// Result is the outcome of exactly one Request. MessageID is set only on
// success, Error and Reason only on failure.
type Result struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Channel   string `json:"channel"`
	Error     string `json:"error,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
}

func failure(channelID string, reason Reason, format string, args ...any) Result {
	return Result{Channel: channelID, Reason: reason, Error: fmt.Sprintf(format, args...)}
}

// SendNotification resolves, renders and sends req with a single transport
// attempt. It never returns an error or panics; every outcome is a Result.
func (s *Service) SendNotification(ctx context.Context, req Request) Result {
	res := s.dispatch(ctx, req)

	if res.Success {
		notificationsTotal.WithLabelValues(res.Channel, "sent").Inc()
		s.events.Publish(events.NotificationSent, res)
	} else {
		notificationsTotal.WithLabelValues(res.Channel, string(res.Reason)).Inc()
		s.events.Publish(events.NotificationFailed, res)
		s.logger.Warn("notification failed",
			"channel_id", res.Channel,
			"reason", string(res.Reason),
			"error", res.Error,
		)
	}
	return res
}

func (s *Service) dispatch(ctx context.Context, req Request) Result {
	ch, ok := s.channels.Get(req.ChannelID)
	if !ok {
		return failure(req.ChannelID, ReasonChannelNotFound, "Channel not found: %s", req.ChannelID)
	}
	if !ch.Enabled {
		return failure(ch.ID, ReasonChannelDisabled, "Channel %s is disabled", ch.ID)
	}
	if len(req.Recipients) == 0 {
		return failure(ch.ID, ReasonInvalidRequest, "at least one recipient is required")
	}

	msg := transport.Message{
		Channel:    ch,
		Recipients: append([]string(nil), req.Recipients...),
		Subject:    req.Subject,
		Content:    req.Content,
	}
	if req.Template != "" {
		tmpl, ok := s.templates.Get(req.Template)
		if !ok {
			return failure(ch.ID, ReasonTemplateNotFound, "Template not found: %s", req.Template)
		}
		rendered, err := s.renderer.Render(tmpl, req.Variables)
		if err != nil {
			return failure(ch.ID, ReasonRender, "%v", err)
		}
		msg.Subject, msg.Content = rendered.Subject, rendered.Content
	}

	if err := s.send(ctx, msg); err != nil {
		return failure(ch.ID, ReasonTransport, "%v", err)
	}

	id := s.newID()
	entry := ledger.Status{
		MessageID:   id,
		Channel:     ch.ID,
		ChannelType: string(ch.Type),
		Status:      ledger.StateSent,
		Recipients:  len(msg.Recipients),
		SentAt:      s.now(),
	}
	if err := s.ledger.Append(ctx, entry); err != nil {
		// Sent but unrecorded.
		s.logger.Error("delivery not recorded", "message_id", id, "channel_id", ch.ID, "error", err)
		return failure(ch.ID, ReasonLedger, "recording delivery %s: %v", id, err)
	}

	s.logger.Info("notification sent",
		"message_id", id,
		"channel_id", ch.ID,
		"type", string(ch.Type),
		"recipients", len(msg.Recipients),
	)
	return Result{Success: true, MessageID: id, Channel: ch.ID}
}

// send invokes the channel type's transport once, converting panics into
// errors.
func (s *Service) send(ctx context.Context, msg transport.Message) (err error) {
	tr, ok := s.transports.For(msg.Channel.Type)
	if !ok {
		return fmt.Errorf("no transport for channel type %q", msg.Channel.Type)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
		transportDuration.WithLabelValues(string(msg.Channel.Type), outcome(err == nil)).Observe(time.Since(start).Seconds())
	}()
	return tr.Send(ctx, msg)
}
