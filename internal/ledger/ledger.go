// Package ledger records successfully dispatched messages and derives
// delivery statistics from them.
//
// The ledger is append-only: the dispatcher writes one Status per message
// that actually left the system, and Statistics is always recomputed from the
// stored entries rather than kept as independent counters.
//
// Backends:
//   - Memory: process-lifetime map, the default
//   - SQLite: delivery_log table (see internal/storage)
//   - Redis: one hash per message plus per-channel id sets
package ledger

import (
	"context"
	"errors"
	"time"
)

type State string

const (
	StateSent      State = "sent"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

var (
	ErrNotFound  = errors.New("delivery not found")
	ErrDuplicate = errors.New("duplicate message id")
)

// Status is one ledger entry, keyed by MessageID.
type Status struct {
	MessageID   string    `json:"message_id"`
	Channel     string    `json:"channel"`
	ChannelType string    `json:"channel_type,omitempty"`
	Status      State     `json:"status"`
	Recipients  int       `json:"recipients"`
	SentAt      time.Time `json:"sent_at"`
}

// Statistics is the aggregate view over every entry ever written.
type Statistics struct {
	TotalSent int64            `json:"total_sent"`
	Channels  map[string]int64 `json:"channels"`
}

// Ledger is implemented by every backend. Append must be atomic: concurrent
// appends with distinct ids each land exactly once.
type Ledger interface {
	Append(ctx context.Context, st Status) error
	Get(ctx context.Context, messageID string) (Status, error)
	Statistics(ctx context.Context) (Statistics, error)
	Close() error
}
