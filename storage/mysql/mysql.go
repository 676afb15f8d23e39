// Package mysql provides a MySQL implementation of renew.LedgerStore and
// renew.Deduper on top of GORM.
package mysql

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// paymentRow is the GORM model of one ledger row.
type paymentRow struct {
	Seq            uint64     `gorm:"primaryKey;autoIncrement"`
	ID             string     `gorm:"type:varchar(36);not null;uniqueIndex"`
	TransactionKey string     `gorm:"type:varchar(191);not null;index:idx_payment_key_status_created,priority:1"`
	Amount         int64      `gorm:"not null"`
	Status         string     `gorm:"type:varchar(16);not null;index:idx_payment_key_status_created,priority:2"`
	StartAt        time.Time  `gorm:"type:datetime(6);not null"`
	EndAt          time.Time  `gorm:"type:datetime(6);not null"`
	EndGraceAt     time.Time  `gorm:"type:datetime(6);not null"`
	NextScheduleAt *time.Time `gorm:"type:datetime(6)"`
	NextScheduleID *string    `gorm:"type:varchar(191)"`
	CreatedAt      time.Time  `gorm:"type:datetime(6);not null;index:idx_payment_key_status_created,priority:3;index"`
}

func (paymentRow) TableName() string { return "payment" }

// webhookClaim is one claimed idempotency key.
type webhookClaim struct {
	ClaimKey  string     `gorm:"type:varchar(191);primaryKey"`
	ClaimedAt time.Time  `gorm:"type:datetime(6);not null"`
	ExpiresAt *time.Time `gorm:"type:datetime(6);index"`
}

func (webhookClaim) TableName() string { return "webhook_claims" }

// Config holds MySQL storage configuration
type Config struct {
	// DSN, e.g. "user:pass@tcp(127.0.0.1:3306)/db?charset=utf8mb4&parseTime=True&loc=UTC".
	// parseTime=True is required.
	DSN string

	// AutoMigrate creates or updates the tables on New
	AutoMigrate bool

	// LogLevel for GORM's own SQL logger. Default Silent.
	LogLevel gormlogger.LogLevel
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		AutoMigrate: true,
		LogLevel:    gormlogger.Silent,
	}
}

// Storage implements renew.LedgerStore and renew.Deduper using MySQL
type Storage struct {
	db  *gorm.DB
	now func() time.Time
}

// New opens a MySQL connection and returns a storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config.LogLevel == 0 {
		config.LogLevel = gormlogger.Silent
	}

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       config.DSN,
		DefaultStringSize:         256,
		SkipInitializeWithVersion: false,
	}), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(config.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}

	s, err := NewWithDB(ctx, db, config.AutoMigrate)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing GORM handle
func NewWithDB(ctx context.Context, db *gorm.DB, autoMigrate bool) (*Storage, error) {
	s := &Storage{db: db, now: func() time.Time { return time.Now().UTC() }}

	if err := s.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&paymentRow{}, &webhookClaim{}); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the MySQL connection
func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// InsertEvent implements renew.LedgerStore
func (s *Storage) InsertEvent(ctx context.Context, ev *renew.PaymentEvent) (*renew.PaymentEvent, error) {
	if ev == nil || ev.TransactionKey == "" {
		return nil, fmt.Errorf("invalid payment event")
	}

	row := toRow(ev)
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to insert payment event: %w", err)
	}

	stored := fromRow(&row)
	return &stored, nil
}

// QueryEvents implements renew.LedgerStore
func (s *Storage) QueryEvents(ctx context.Context, q renew.EventQuery) ([]renew.PaymentEvent, error) {
	tx := s.db.WithContext(ctx).Model(&paymentRow{})
	if q.TransactionKey != "" {
		tx = tx.Where("transaction_key = ?", q.TransactionKey)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", string(q.Status))
	}
	tx = tx.Order("created_at DESC").Order("seq DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []paymentRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query payment events: %w", err)
	}

	events := make([]renew.PaymentEvent, len(rows))
	for i := range rows {
		events[i] = fromRow(&rows[i])
	}
	return events, nil
}

// Claim implements renew.Deduper
func (s *Storage) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	db := s.db.WithContext(ctx)

	// An expired claim no longer blocks the key
	if err := db.Where("claim_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now).
		Delete(&webhookClaim{}).Error; err != nil {
		return false, fmt.Errorf("failed to expire claim %q: %w", key, err)
	}

	claim := webhookClaim{ClaimKey: key, ClaimedAt: now}
	if ttl > 0 {
		expiresAt := now.Add(ttl)
		claim.ExpiresAt = &expiresAt
	}

	tx := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if tx.Error != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// Release implements renew.Deduper
func (s *Storage) Release(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("claim_key = ?", key).Delete(&webhookClaim{}).Error; err != nil {
		return fmt.Errorf("failed to release %q: %w", key, err)
	}
	return nil
}

func toRow(ev *renew.PaymentEvent) paymentRow {
	row := paymentRow{
		ID:             ev.ID,
		TransactionKey: ev.TransactionKey,
		Amount:         ev.Amount,
		Status:         string(ev.Status),
		StartAt:        ev.StartAt.UTC(),
		EndAt:          ev.EndAt.UTC(),
		EndGraceAt:     ev.EndGraceAt.UTC(),
		CreatedAt:      ev.CreatedAt.UTC(),
	}
	if !ev.NextScheduleAt.IsZero() {
		t := ev.NextScheduleAt.UTC()
		row.NextScheduleAt = &t
	}
	if ev.NextScheduleID != "" {
		id := ev.NextScheduleID
		row.NextScheduleID = &id
	}
	return row
}

func fromRow(row *paymentRow) renew.PaymentEvent {
	ev := renew.PaymentEvent{
		ID:             row.ID,
		TransactionKey: row.TransactionKey,
		Amount:         row.Amount,
		Status:         renew.EventStatus(row.Status),
		StartAt:        row.StartAt.UTC(),
		EndAt:          row.EndAt.UTC(),
		EndGraceAt:     row.EndGraceAt.UTC(),
		CreatedAt:      row.CreatedAt.UTC(),
	}
	if row.NextScheduleAt != nil {
		ev.NextScheduleAt = row.NextScheduleAt.UTC()
	}
	if row.NextScheduleID != nil {
		ev.NextScheduleID = *row.NextScheduleID
	}
	return ev
}
