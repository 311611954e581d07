package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions selects the server and key namespace.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis stores each entry as a hash and tracks message ids per channel in
// sets, so statistics are SCARDs over what was actually written.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is empty")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "courier"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (l *Redis) deliveryKey(id string) string      { return l.prefix + ":delivery:" + id }
func (l *Redis) channelKey(channel string) string { return l.prefix + ":channel:" + channel }
func (l *Redis) channelsKey() string              { return l.prefix + ":channels" }

// appendScript claims the id and writes the entry in one atomic step.
// KEYS: delivery hash, channel set, channels set.
// ARGV: channel, channel_type, status, recipients, sent_at, message id.
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'channel', ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'channel_type', ARGV[2], 'status', ARGV[3], 'recipients', ARGV[4], 'sent_at', ARGV[5])
redis.call('SADD', KEYS[2], ARGV[6])
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

func (l *Redis) Append(ctx context.Context, st Status) error {
	if st.MessageID == "" {
		return fmt.Errorf("message id is empty")
	}
	if st.SentAt.IsZero() {
		st.SentAt = time.Now()
	}

	keys := []string{l.deliveryKey(st.MessageID), l.channelKey(st.Channel), l.channelsKey()}
	written, err := appendScript.Run(ctx, l.client, keys,
		st.Channel,
		st.ChannelType,
		string(st.Status),
		st.Recipients,
		st.SentAt.UTC().Format(time.RFC3339Nano),
		st.MessageID,
	).Int()
	if err != nil {
		return fmt.Errorf("record delivery %q: %w", st.MessageID, err)
	}
	if written == 0 {
		return fmt.Errorf("append %q: %w", st.MessageID, ErrDuplicate)
	}
	return nil
}

func (l *Redis) Get(ctx context.Context, messageID string) (Status, error) {
	fields, err := l.client.HGetAll(ctx, l.deliveryKey(messageID)).Result()
	if err != nil {
		return Status{}, fmt.Errorf("read delivery %q: %w", messageID, err)
	}
	if len(fields) == 0 {
		return Status{}, ErrNotFound
	}

	st := Status{
		MessageID:   messageID,
		Channel:     fields["channel"],
		ChannelType: fields["channel_type"],
		Status:      State(fields["status"]),
	}
	if n, err := strconv.Atoi(fields["recipients"]); err == nil {
		st.Recipients = n
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["sent_at"]); err == nil {
		st.SentAt = t
	}
	return st, nil
}

func (l *Redis) Statistics(ctx context.Context) (Statistics, error) {
	channels, err := l.client.SMembers(ctx, l.channelsKey()).Result()
	if err != nil {
		return Statistics{}, fmt.Errorf("list channels: %w", err)
	}

	counts := make(map[string]*redis.IntCmd, len(channels))
	_, err = l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ch := range channels {
			counts[ch] = pipe.SCard(ctx, l.channelKey(ch))
		}
		return nil
	})
	if err != nil {
		return Statistics{}, fmt.Errorf("count deliveries: %w", err)
	}

	stats := Statistics{Channels: make(map[string]int64, len(channels))}
	for ch, cmd := range counts {
		n := cmd.Val()
		stats.Channels[ch] = n
		stats.TotalSent += n
	}
	return stats, nil
}

func (l *Redis) Close() error {
	return l.client.Close()
}
