// Package firestore provides a Firestore implementation of renew.LedgerStore
// and renew.Deduper.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// counterNamespace derives counter document ids from transaction keys,
// which may contain characters Firestore rejects in ids.
var counterNamespace = uuid.MustParse("6f1c2a4e-9b3d-4c57-8e21-0d5a7f3b9c64")

// counterDocID names the sequence counter of one transaction key.
func counterDocID(transactionKey string) string {
	return "seq_" + uuid.NewSHA1(counterNamespace, []byte(transactionKey)).String()
}

// Storage implements renew.LedgerStore and renew.Deduper using Google Cloud Firestore
type Storage struct {
	client             *firestore.Client
	paymentsCollection string
	claimsCollection   string
	metaCollection     string
	now                func() time.Time
}

// Config holds Firestore storage configuration
type Config struct {
	// PaymentsCollection holds the ledger rows
	// Default: "payments"
	PaymentsCollection string

	// ClaimsCollection holds webhook idempotency claims
	// Default: "webhook_claims"
	ClaimsCollection string

	// MetaCollection holds one insert-order counter per transaction key
	// Default: "ledger_meta"
	MetaCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.PaymentsCollection == "" {
		config.PaymentsCollection = "payments"
	}
	if config.ClaimsCollection == "" {
		config.ClaimsCollection = "webhook_claims"
	}
	if config.MetaCollection == "" {
		config.MetaCollection = "ledger_meta"
	}

	return &Storage{
		client:             client,
		paymentsCollection: config.PaymentsCollection,
		claimsCollection:   config.ClaimsCollection,
		metaCollection:     config.MetaCollection,
		now:                func() time.Time { return time.Now().UTC() },
	}, nil
}

// InsertEvent implements renew.LedgerStore. The row and its transaction
// key's sequence counter are written in one transaction. The seq only breaks
// CreatedAt ties between rows of the same key, so rows of different keys
// never contend on a shared document.
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

	counter := s.client.Collection(s.metaCollection).Doc(counterDocID(stored.TransactionKey))
	row := s.client.Collection(s.paymentsCollection).Doc(stored.ID)

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		var seq int64
		snap, err := tx.Get(counter)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			seq = int64(getInt(snap.Data(), "value"))
		}
		seq++

		if err := tx.Set(counter, map[string]interface{}{"value": seq}); err != nil {
			return err
		}
		return tx.Create(row, toDoc(&stored, seq))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment event: %w", err)
	}

	return &stored, nil
}

// QueryEvents implements renew.LedgerStore
func (s *Storage) QueryEvents(ctx context.Context, q renew.EventQuery) ([]renew.PaymentEvent, error) {
	query := s.client.Collection(s.paymentsCollection).Query
	if q.TransactionKey != "" {
		query = query.Where("transactionKey", "==", q.TransactionKey)
	}
	if q.Status != "" {
		query = query.Where("status", "==", string(q.Status))
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy("seq", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query payment events: %w", err)
	}

	events := make([]renew.PaymentEvent, len(docs))
	for i, doc := range docs {
		events[i] = fromDoc(doc.Ref.ID, doc.Data())
	}
	return events, nil
}

// Claim implements renew.Deduper
func (s *Storage) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	doc := s.client.Collection(s.claimsCollection).Doc(key)
	now := s.now()
	claimed := false

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		claimed = false
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap != nil && snap.Exists() {
			expiresAt := getTime(snap.Data(), "expiresAt")
			if expiresAt.IsZero() || now.Before(expiresAt) {
				return nil
			}
		}

		data := map[string]interface{}{"claimedAt": now}
		if ttl > 0 {
			data["expiresAt"] = now.Add(ttl)
		}
		if err := tx.Set(doc, data); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim %q: %w", key, err)
	}
	return claimed, nil
}

// Release implements renew.Deduper
func (s *Storage) Release(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.claimsCollection).Doc(key).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to release %q: %w", key, err)
	}
	return nil
}

func toDoc(ev *renew.PaymentEvent, seq int64) map[string]interface{} {
	data := map[string]interface{}{
		"transactionKey": ev.TransactionKey,
		"amount":         ev.Amount,
		"status":         string(ev.Status),
		"startAt":        ev.StartAt,
		"endAt":          ev.EndAt,
		"endGraceAt":     ev.EndGraceAt,
		"createdAt":      ev.CreatedAt,
		"seq":            seq,
	}
	if !ev.NextScheduleAt.IsZero() {
		data["nextScheduleAt"] = ev.NextScheduleAt
	}
	if ev.NextScheduleID != "" {
		data["nextScheduleId"] = ev.NextScheduleID
	}
	return data
}

func fromDoc(id string, data map[string]interface{}) renew.PaymentEvent {
	return renew.PaymentEvent{
		ID:             id,
		TransactionKey: getString(data, "transactionKey"),
		Amount:         int64(getInt(data, "amount")),
		Status:         renew.EventStatus(getString(data, "status")),
		StartAt:        getTime(data, "startAt"),
		EndAt:          getTime(data, "endAt"),
		EndGraceAt:     getTime(data, "endGraceAt"),
		NextScheduleAt: getTime(data, "nextScheduleAt"),
		NextScheduleID: getString(data, "nextScheduleId"),
		CreatedAt:      getTime(data, "createdAt"),
	}
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v.UTC()
	}
	return time.Time{}
}
