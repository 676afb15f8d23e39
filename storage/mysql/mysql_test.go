//go:build integration

package mysql

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

func getTestDSN() string {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(127.0.0.1:3306)/gorenew_test?charset=utf8mb4&parseTime=True&loc=UTC"
	}
	return dsn
}

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	config := DefaultConfig()
	config.DSN = getTestDSN()

	storage, err := New(context.Background(), config)
	if err != nil {
		t.Skipf("Skipping test: failed to connect to MySQL: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	storage.db.Exec("DELETE FROM payment")
	storage.db.Exec("DELETE FROM webhook_claims")
	return storage
}

func TestStorage_InsertAndQuery(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	paid, err := storage.InsertEvent(ctx, &renew.PaymentEvent{
		TransactionKey: "A",
		Amount:         9900,
		Status:         renew.EventStatusPaid,
		StartAt:        base,
		EndAt:          base.AddDate(0, 0, 30),
		EndGraceAt:     base.AddDate(0, 0, 31),
		NextScheduleAt: base.AddDate(0, 0, 31).Add(10 * time.Hour),
		NextScheduleID: "S1",
		CreatedAt:      base,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, paid.ID)

	cancel := renew.CancellationOf(paid)
	cancel.CreatedAt = base
	_, err = storage.InsertEvent(ctx, cancel)
	require.NoError(t, err)

	rows, err := storage.QueryEvents(ctx, renew.EventQuery{TransactionKey: "A"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, renew.EventStatusCancel, rows[0].Status, "insert order breaks created_at ties")
	assert.Equal(t, int64(-9900), rows[0].Amount)
	assert.True(t, rows[0].NextScheduleAt.Equal(paid.NextScheduleAt))

	paidOnly, err := storage.QueryEvents(ctx, renew.EventQuery{Status: renew.EventStatusPaid, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paidOnly, 1)
	assert.Equal(t, paid.ID, paidOnly[0].ID)
}

func TestStorage_ClaimRelease(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	ok, err := storage.Claim(ctx, "Cancel:T1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = storage.Claim(ctx, "Cancel:T1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, storage.Release(ctx, "Cancel:T1"))
	ok, err = storage.Claim(ctx, "Cancel:T1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStorage_ClaimExpires(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now().UTC()
	storage.now = func() time.Time { return now }

	ok, err := storage.Claim(ctx, "Paid:T2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	ok, err = storage.Claim(ctx, "Paid:T2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
