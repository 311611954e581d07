package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/templates"
	"github.com/mattjoyce/courier/internal/transport"
)

// Options wires a Service. Transports and Ledger are required.
type Options struct {
	Channels   []channel.Channel
	Templates  []templates.Template
	Transports transport.Set
	Ledger     ledger.Ledger
	Events     *events.Hub

	// StrictRender fails sends whose template variables are incomplete
	// instead of leaving the markers in place.
	StrictRender bool
	// MaxConcurrency bounds bulk fan-out. Zero takes DefaultMaxConcurrency;
	// a negative value means unbounded.
	MaxConcurrency int

	Logger *slog.Logger
	NewID  func() string
	Now    func() time.Time
}

// Service is one independently configured dispatch engine. All methods are
// safe for concurrent use.
type Service struct {
	channels   *channel.Registry
	templates  *templates.Store
	renderer   templates.Renderer
	transports transport.Set
	ledger     ledger.Ledger
	events     *events.Hub

	maxConcurrency int
	logger         *slog.Logger
	newID          func() string
	now            func() time.Time
}

// DefaultMaxConcurrency is the bulk fan-out limit used when none is set.
const DefaultMaxConcurrency = 16

func New(opts Options) (*Service, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if opts.Transports == nil {
		return nil, fmt.Errorf("transports are required")
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}

	s := &Service{
		channels:       channel.NewRegistry(opts.Channels...),
		templates:      templates.NewStore(opts.Templates...),
		renderer:       templates.Renderer{Strict: opts.StrictRender},
		transports:     opts.Transports,
		ledger:         opts.Ledger,
		events:         opts.Events,
		maxConcurrency: opts.MaxConcurrency,
		logger:         opts.Logger,
		newID:          opts.NewID,
		now:            opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Service) AddTemplate(t templates.Template) {
	s.templates.Add(t)
	s.events.Publish(events.TemplateAdded, map[string]string{"template_id": t.ID})
	s.logger.Debug("template added", "template_id", t.ID)
}

func (s *Service) Templates() []templates.Template {
	return s.templates.Templates()
}

// RemoveTemplate reports whether the template existed.
func (s *Service) RemoveTemplate(id string) bool {
	return s.templates.Remove(id)
}

// UpdateChannel inserts ch or fully replaces the channel with its id.
func (s *Service) UpdateChannel(ch channel.Channel) {
	s.channels.Update(ch)
	s.events.Publish(events.ChannelUpdated, channelEvent(ch))
	s.logger.Info("channel updated", "channel_id", ch.ID, "type", string(ch.Type), "enabled", ch.Enabled)
}

// AddChannel inserts ch and fails with channel.ErrChannelExists when the id
// is taken.
func (s *Service) AddChannel(ch channel.Channel) error {
	if err := s.channels.Add(ch); err != nil {
		return err
	}
	s.events.Publish(events.ChannelUpdated, channelEvent(ch))
	s.logger.Info("channel added", "channel_id", ch.ID, "type", string(ch.Type), "enabled", ch.Enabled)
	return nil
}

func (s *Service) RemoveChannel(id string) bool {
	if !s.channels.Remove(id) {
		return false
	}
	s.events.Publish(events.ChannelRemoved, map[string]string{"channel_id": id})
	s.logger.Info("channel removed", "channel_id", id)
	return true
}

func (s *Service) Channels() []channel.Channel {
	return s.channels.Channels()
}

func (s *Service) Channel(id string) (channel.Channel, bool) {
	return s.channels.Get(id)
}

// ValidateChannel checks ch against its type's schema. It does not consult
// or modify the registry.
func (s *Service) ValidateChannel(ch channel.Channel) channel.ValidationResult {
	return channel.Validate(ch)
}

// DeliveryStatus returns ledger.ErrNotFound for unknown ids.
func (s *Service) DeliveryStatus(ctx context.Context, messageID string) (ledger.Status, error) {
	return s.ledger.Get(ctx, messageID)
}

func (s *Service) Statistics(ctx context.Context) (ledger.Statistics, error) {
	return s.ledger.Statistics(ctx)
}

func channelEvent(ch channel.Channel) map[string]any {
	return map[string]any{"channel_id": ch.ID, "type": ch.Type, "enabled": ch.Enabled}
}
