// Package redisledger stores renewal cycles as Redis hashes. Reservation and outcome
// recording run as Lua scripts so each check-and-set is atomic on the server.
package redisledger

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"renewal_notifier/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "renewals:ledger:"

var _ notification.Ledger = (*Ledger)(nil)

// KEYS[1] cycle hash, KEYS[2] per-subscription index set.
// ARGV[1] now, ARGV[2] lease cutoff, ARGV[3] renewal timestamp.
// Returns the attempt number, 0 when the cycle is sent or held, -1 when it is sending.
var reserveScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  redis.call('HSET', KEYS[1], 'status', 'reserved', 'attempts', 1, 'reserved_at', ARGV[1], 'created_at', ARGV[1], 'updated_at', ARGV[1])
  redis.call('SADD', KEYS[2], ARGV[3])
  return 1
end
if status == 'sent' then
  return 0
end
if status == 'sending' then
  return -1
end
if status == 'reserved' then
  local reservedAt = tonumber(redis.call('HGET', KEYS[1], 'reserved_at') or '0')
  if reservedAt >= tonumber(ARGV[2]) then
    return 0
  end
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('HSET', KEYS[1], 'status', 'reserved', 'reserved_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('HDEL', KEYS[1], 'last_error')
return attempts
`)

// KEYS as above. ARGV[1] status, ARGV[2] at, ARGV[3] error, ARGV[4] renewal timestamp.
var recordScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'sent' then
  return 0
end
if not status then
  redis.call('HSET', KEYS[1], 'attempts', 1, 'created_at', ARGV[2])
  redis.call('SADD', KEYS[2], ARGV[4])
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
if ARGV[1] == 'sent' then
  redis.call('HSET', KEYS[1], 'sent_at', ARGV[2])
  redis.call('HDEL', KEYS[1], 'last_error')
elseif ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'last_error', ARGV[3])
end
return 1
`)

type Ledger struct {
	rdb   *redis.Client
	lease time.Duration
}

func New(rdb *redis.Client, lease time.Duration) *Ledger {
	if lease <= 0 {
		lease = notification.DefaultLease
	}
	return &Ledger{rdb: rdb, lease: lease}
}

// NewClient parses a redis:// or rediss:// URL and pings the server.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

func cycleKey(key notification.CycleKey) string {
	return keyPrefix + key.SubscriptionID + ":" + strconv.FormatInt(key.RenewalTimestamp, 10)
}

func indexKey(subscriptionID string) string {
	return keyPrefix + "idx:" + subscriptionID
}

func (l *Ledger) HasNotified(ctx context.Context, key notification.CycleKey) (bool, error) {
	status, err := l.rdb.HGet(ctx, cycleKey(key), "status").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis check renewal cycle %s: %w", key, err)
	}
	return notification.DeliveryStatus(status) == notification.StatusSent, nil
}

func (l *Ledger) Reserve(ctx context.Context, key notification.CycleKey, now time.Time) (*notification.Record, error) {
	keys := []string{cycleKey(key), indexKey(key.SubscriptionID)}
	attempts, err := reserveScript.Run(ctx, l.rdb, keys,
		now.Unix(), now.Add(-l.lease).Unix(), key.RenewalTimestamp,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("redis reserve renewal cycle %s: %w", key, err)
	}
	switch {
	case attempts < 0:
		return nil, notification.ErrDeliveryInDoubt
	case attempts == 0:
		return nil, notification.ErrAlreadyReserved
	}

	rec, err := l.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *Ledger) Record(ctx context.Context, key notification.CycleKey, outcome notification.Outcome, at time.Time) error {
	keys := []string{cycleKey(key), indexKey(key.SubscriptionID)}
	errText := ""
	if outcome.Status != notification.StatusSent {
		errText = outcome.Error
	}
	err := recordScript.Run(ctx, l.rdb, keys,
		string(outcome.Status), at.Unix(), errText, key.RenewalTimestamp,
	).Err()
	if err != nil {
		return fmt.Errorf("redis record %s for renewal cycle %s: %w", outcome.Status, key, err)
	}
	return nil
}

func (l *Ledger) History(ctx context.Context, subscriptionID string) ([]notification.Record, error) {
	members, err := l.rdb.SMembers(ctx, indexKey(subscriptionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list renewal history: %w", err)
	}

	history := make([]notification.Record, 0, len(members))
	for _, member := range members {
		renewal, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		rec, err := l.load(ctx, notification.CycleKey{SubscriptionID: subscriptionID, RenewalTimestamp: renewal})
		if err != nil {
			return nil, err
		}
		history = append(history, *rec)
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Key.RenewalTimestamp < history[j].Key.RenewalTimestamp
	})
	return history, nil
}

func (l *Ledger) load(ctx context.Context, key notification.CycleKey) (*notification.Record, error) {
	fields, err := l.rdb.HGetAll(ctx, cycleKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load renewal cycle %s: %w", key, err)
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	return &notification.Record{
		Key:        key,
		Status:     notification.DeliveryStatus(fields["status"]),
		Attempts:   attempts,
		ReservedAt: unixField(fields["reserved_at"]),
		SentAt:     unixField(fields["sent_at"]),
		LastError:  fields["last_error"],
		CreatedAt:  unixField(fields["created_at"]),
		UpdatedAt:  unixField(fields["updated_at"]),
	}, nil
}

func unixField(v string) time.Time {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
