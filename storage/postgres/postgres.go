// Package postgres provides a PostgreSQL implementation of renew.LedgerStore
// and renew.Deduper. The schema is applied with embedded goose migrations.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// Storage implements renew.LedgerStore and renew.Deduper using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background claim cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies the embedded migrations on New
	AutoMigrate bool

	// Cleanup of expired webhook claims
	CleanupEnabled  bool
	CleanupInterval time.Duration

	Logger renew.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Logger == nil {
		config.Logger = &renew.NoopLogger{}
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.AutoMigrate {
		if err := Migrate(ctx, pool, config.Logger); err != nil {
			pool.Close()
			return nil, err
		}
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())
	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled && config.CleanupInterval > 0 {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
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

	// A zero CreatedAt lets the database stamp the row
	var createdAt *time.Time
	if !stored.CreatedAt.IsZero() {
		createdAt = &stored.CreatedAt
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO payment (id, transaction_key, amount, status, start_at, end_at, end_grace_at,
				next_schedule_at, next_schedule_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
			RETURNING created_at`,
		stored.ID, stored.TransactionKey, stored.Amount, string(stored.Status),
		stored.StartAt, stored.EndAt, stored.EndGraceAt,
		nullTime(stored.NextScheduleAt), nullString(stored.NextScheduleID), createdAt,
	).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment event: %w", err)
	}

	stored.CreatedAt = stored.CreatedAt.UTC()
	return &stored, nil
}

// QueryEvents implements renew.LedgerStore
func (s *Storage) QueryEvents(ctx context.Context, q renew.EventQuery) ([]renew.PaymentEvent, error) {
	var (
		where []string
		args  []any
	)
	if q.TransactionKey != "" {
		args = append(args, q.TransactionKey)
		where = append(where, "transaction_key = $"+strconv.Itoa(len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, transaction_key, amount, status, start_at, end_at, end_grace_at,
			next_schedule_at, next_schedule_id, created_at
		FROM payment`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, seq DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment events: %w", err)
	}

	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (renew.PaymentEvent, error) {
	var (
		ev             renew.PaymentEvent
		status         string
		nextScheduleAt *time.Time
		nextScheduleID *string
	)
	err := row.Scan(&ev.ID, &ev.TransactionKey, &ev.Amount, &status,
		&ev.StartAt, &ev.EndAt, &ev.EndGraceAt,
		&nextScheduleAt, &nextScheduleID, &ev.CreatedAt)
	if err != nil {
		return ev, err
	}

	ev.Status = renew.EventStatus(status)
	ev.StartAt = ev.StartAt.UTC()
	ev.EndAt = ev.EndAt.UTC()
	ev.EndGraceAt = ev.EndGraceAt.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	if nextScheduleAt != nil {
		ev.NextScheduleAt = nextScheduleAt.UTC()
	}
	if nextScheduleID != nil {
		ev.NextScheduleID = *nextScheduleID
	}
	return ev, nil
}

// Claim implements renew.Deduper. An existing claim is only taken over
// once it has expired.
func (s *Storage) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expiresAt = &t
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_claims (key, claimed_at, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET claimed_at = EXCLUDED.claimed_at, expires_at = EXCLUDED.expires_at
			WHERE webhook_claims.expires_at IS NOT NULL AND webhook_claims.expires_at <= $2`,
		key, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release implements renew.Deduper
func (s *Storage) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM webhook_claims WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to release %q: %w", key, err)
	}
	return nil
}

func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.config.Logger.Warn("webhook claim cleanup failed", renew.Field{Key: "error", Value: err})
			}
		}
	}
}

// Cleanup deletes expired webhook claims
func (s *Storage) Cleanup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_claims WHERE expires_at IS NOT NULL AND expires_at < $1`, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cleanup webhook claims: %w", err)
	}
	return nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
