// Package redis provides a Redis implementation of renew.LedgerStore and
// renew.Deduper. Row inserts run as a Lua script so a row and its index
// entries appear together.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// Storage implements renew.LedgerStore and renew.Deduper using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
	insert *redis.Script
	now    func() time.Time
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gorenew:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "gorenew:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "gorenew:"
	}

	return &Storage{
		client: client,
		config: config,
		now:    func() time.Time { return time.Now().UTC() },
		// KEYS: seq counter, rows hash, then every index the row joins.
		// ARGV: row id, encoded row.
		insert: redis.NewScript(`
			local seq = redis.call('INCR', KEYS[1])
			redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
			for i = 3, #KEYS do
				redis.call('ZADD', KEYS[i], seq, ARGV[1])
			end
			return seq
		`),
	}, nil
}

// InsertEvent implements renew.LedgerStore
func (s *Storage) InsertEvent(ctx context.Context, ev *renew.PaymentEvent) (*renew.PaymentEvent, error) {
	if ev == nil || ev.TransactionKey == "" {
		return nil, fmt.Errorf("invalid payment event")
	}

	stored := *ev
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment event: %w", err)
	}

	keys := []string{
		s.seqKey(),
		s.rowsKey(),
		s.indexKey("", ""),
		s.indexKey(stored.TransactionKey, ""),
		s.indexKey("", stored.Status),
		s.indexKey(stored.TransactionKey, stored.Status),
	}
	if err := s.insert.Run(ctx, s.client, keys, stored.ID, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to insert payment event: %w", err)
	}

	return &stored, nil
}

// QueryEvents implements renew.LedgerStore
func (s *Storage) QueryEvents(ctx context.Context, q renew.EventQuery) ([]renew.PaymentEvent, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(q.TransactionKey, q.Status), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger index: %w", err)
	}
	if len(members) == 0 {
		return []renew.PaymentEvent{}, nil
	}

	ids := make([]string, len(members))
	seqs := make(map[string]float64, len(members))
	for i, m := range members {
		id, _ := m.Member.(string)
		ids[i] = id
		seqs[id] = m.Score
	}

	values, err := s.client.HMGet(ctx, s.rowsKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger rows: %w", err)
	}

	events := make([]renew.PaymentEvent, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ledger row %q is indexed but missing", ids[i])
		}
		var ev renew.PaymentEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment event: %w", err)
		}
		events = append(events, ev)
	}

	// Latest first; insertion order breaks CreatedAt ties
	sort.SliceStable(events, func(i, j int) bool {
		a, b := &events[i], &events[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return seqs[a.ID] > seqs[b.ID]
	})

	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return events, nil
}

// Claim implements renew.Deduper
func (s *Storage) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.claimKey(key), s.now().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, err)
	}
	return ok, nil
}

// Release implements renew.Deduper
func (s *Storage) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.claimKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release %q: %w", key, err)
	}
	return nil
}

// Ledger keys share one hash tag so the insert script stays in a single
// cluster slot.
func (s *Storage) seqKey() string {
	return s.config.KeyPrefix + "{ledger}:seq"
}

func (s *Storage) rowsKey() string {
	return s.config.KeyPrefix + "{ledger}:rows"
}

func (s *Storage) indexKey(transactionKey string, status renew.EventStatus) string {
	key := s.config.KeyPrefix + "{ledger}:idx"
	if transactionKey != "" {
		key += ":key:" + transactionKey
	}
	if status != "" {
		key += ":status:" + string(status)
	}
	return key
}

func (s *Storage) claimKey(key string) string {
	return s.config.KeyPrefix + "claim:" + key
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
