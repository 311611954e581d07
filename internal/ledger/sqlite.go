package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mattjoyce/courier/internal/storage"
)

// SQLite stores entries in the delivery_log table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database at path and wraps it as a ledger.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an already bootstrapped database.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (l *SQLite) Append(ctx context.Context, st Status) error {
	if st.MessageID == "" {
		return fmt.Errorf("message id is empty")
	}
	if st.SentAt.IsZero() {
		st.SentAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO delivery_log(message_id, channel, channel_type, status, recipients, sent_at)
VALUES(?, ?, ?, ?, ?, ?);
`, st.MessageID, st.Channel, st.ChannelType, st.Status, st.Recipients, st.SentAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("append %q: %w", st.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("insert delivery_log: %w", err)
	}
	return nil
}

func (l *SQLite) Get(ctx context.Context, messageID string) (Status, error) {
	var (
		st          Status
		channelType sql.NullString
		status      string
		sentAtS     string
	)
	err := l.db.QueryRowContext(ctx, `
SELECT message_id, channel, channel_type, status, recipients, sent_at
FROM delivery_log
WHERE message_id = ?;
`, messageID).Scan(&st.MessageID, &st.Channel, &channelType, &status, &st.Recipients, &sentAtS)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{}, ErrNotFound
	}
	if err != nil {
		return Status{}, fmt.Errorf("read delivery_log: %w", err)
	}

	st.Status = State(status)
	if channelType.Valid {
		st.ChannelType = channelType.String
	}
	if t, err := time.Parse(time.RFC3339Nano, sentAtS); err == nil {
		st.SentAt = t
	}
	return st, nil
}

func (l *SQLite) Statistics(ctx context.Context) (Statistics, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT channel, COUNT(*) FROM delivery_log GROUP BY channel;`)
	if err != nil {
		return Statistics{}, fmt.Errorf("aggregate delivery_log: %w", err)
	}
	defer rows.Close()

	stats := Statistics{Channels: make(map[string]int64)}
	for rows.Next() {
		var (
			channel string
			count   int64
		)
		if err := rows.Scan(&channel, &count); err != nil {
			return Statistics{}, fmt.Errorf("scan delivery_log aggregate: %w", err)
		}
		stats.Channels[channel] = count
		stats.TotalSent += count
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, fmt.Errorf("iterate delivery_log aggregate: %w", err)
	}
	return stats, nil
}

func (l *SQLite) Close() error {
	return l.db.Close()
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
