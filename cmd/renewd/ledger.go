package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gorenew/pkg/renew"
	firestorestore "github.com/mihaimyh/gorenew/storage/firestore"
	"github.com/mihaimyh/gorenew/storage/memory"
	"github.com/mihaimyh/gorenew/storage/mysql"
	"github.com/mihaimyh/gorenew/storage/postgres"
	redisstore "github.com/mihaimyh/gorenew/storage/redis"
	"github.com/mihaimyh/gorenew/storage/tiered"
)

// store is a ledger that also holds webhook claims. Every backend is one.
type store interface {
	renew.LedgerStore
	renew.Deduper
}

// openStore connects the configured backend. The returned close function
// releases its connections.
func openStore(ctx context.Context, cfg config, logger renew.Logger) (store, func(), error) {
	primary, closePrimary, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.LedgerHotMirror || cfg.LedgerBackend == backendMemory || cfg.LedgerBackend == backendRedis {
		return primary, closePrimary, nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	hot, err := redisstore.New(client, redisstore.Config{KeyPrefix: cfg.RedisKeyPrefix})
	if err != nil {
		_ = client.Close()
		closePrimary()
		return nil, nil, err
	}
	if err := hot.Ping(ctx); err != nil {
		_ = client.Close()
		closePrimary()
		return nil, nil, fmt.Errorf("failed to reach redis mirror: %w", err)
	}

	mirrored, err := tiered.New(tiered.Config{
		Hot:         hot,
		Cold:        primary,
		AsyncMirror: true,
		AsyncErrorHandler: func(err error) {
			logger.Warn("ledger mirror drift", renew.Field{Key: "error", Value: err})
		},
	})
	if err != nil {
		_ = client.Close()
		closePrimary()
		return nil, nil, err
	}

	return mirrored, func() {
		_ = mirrored.Close()
		_ = hot.Close()
		closePrimary()
	}, nil
}

func openBackend(ctx context.Context, cfg config, logger renew.Logger) (store, func(), error) {
	switch cfg.LedgerBackend {
	case backendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.PostgresDSN
		pgConfig.Logger = logger
		s, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case backendMySQL:
		myConfig := mysql.DefaultConfig()
		myConfig.DSN = cfg.MySQLDSN
		s, err := mysql.New(ctx, myConfig)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case backendRedis:
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		s, err := redisstore.New(client, redisstore.Config{KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	case backendFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		s, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return s, func() { _ = client.Close() }, nil

	default:
		logger.Warn("using in-memory ledger; rows are lost on restart")
		return memory.New(), func() {}, nil
	}
}
