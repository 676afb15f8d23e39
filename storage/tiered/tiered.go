// Package tiered provides a Hot/Cold ledger adapter that pairs durable
// persistent storage (Cold) with a fast mirror (Hot).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the mirror (e.g., Redis, Memory). It also holds webhook
	// claims when it implements renew.Deduper.
	Hot renew.LedgerStore

	// Cold is the source of truth (e.g., Postgres, MySQL, Firestore).
	Cold renew.LedgerStore

	// AsyncMirror copies rows to Hot from a background worker. If false,
	// the mirror write happens before InsertEvent returns.
	AsyncMirror bool

	// SyncBufferSize is the size of the buffered channel for async mirroring.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when a mirror write fails.
	// Essential for monitoring consistency drift.
	AsyncErrorHandler func(error)
}

// Storage implements renew.LedgerStore and renew.Deduper over two backends:
// - Write-Through: ledger rows go to Cold first, then Hot
// - Cold-Primary reads: Hot answers only when Cold fails
// - Hot-Only: webhook claims, when Hot is a renew.Deduper
type Storage struct {
	hot  renew.LedgerStore
	cold renew.LedgerStore
	conf Config

	// Channel for async mirroring
	syncQueue chan func() error
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncMirror {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled).
func (s *Storage) Close() error {
	if s.conf.AsyncMirror {
		select {
		case <-s.shutdown:
			// Already closed
		default:
			close(s.shutdown)
			s.wg.Wait()
		}
	}
	return nil
}

// startWorker runs the background mirror loop. Jobs run one at a time so
// Hot sees rows in Cold's insert order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportError(fmt.Errorf("tiered mirror failed: %w", err))
				}
			case <-s.shutdown:
				// Drain queue on shutdown (best effort)
				for {
					select {
					case job := <-s.syncQueue:
						_ = job() //nolint:errcheck // Best effort during shutdown
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// InsertEvent implements renew.LedgerStore with write-through strategy.
// Only the Cold write decides success; the Hot copy keeps Cold's ID and
// CreatedAt.
func (s *Storage) InsertEvent(ctx context.Context, ev *renew.PaymentEvent) (*renew.PaymentEvent, error) {
	stored, err := s.cold.InsertEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	mirror := *stored
	if !s.conf.AsyncMirror {
		if _, err := s.hot.InsertEvent(ctx, &mirror); err != nil {
			s.reportError(fmt.Errorf("tiered mirror failed: %w", err))
		}
		return stored, nil
	}

	// Attempt to enqueue non-blocking
	select {
	case s.syncQueue <- func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := s.hot.InsertEvent(ctx, &mirror)
		return err
	}:
	default:
		s.reportError(errors.New("tiered storage: sync queue full, dropping hot write"))
	}

	return stored, nil
}

// QueryEvents implements renew.LedgerStore. Cold answers; Hot is consulted
// only when Cold returns an error, and that error is returned if Hot fails
// too.
func (s *Storage) QueryEvents(ctx context.Context, q renew.EventQuery) ([]renew.PaymentEvent, error) {
	rows, err := s.cold.QueryEvents(ctx, q)
	if err == nil {
		return rows, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	hotRows, hotErr := s.hot.QueryEvents(ctx, q)
	if hotErr != nil {
		return nil, err
	}
	s.reportError(fmt.Errorf("tiered storage: served query from hot: %w", err))
	return hotRows, nil
}

// Claim implements renew.Deduper on Hot when it supports claims, and on
// Cold otherwise.
func (s *Storage) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d, err := s.deduper()
	if err != nil {
		return false, err
	}
	return d.Claim(ctx, key, ttl)
}

// Release implements renew.Deduper
func (s *Storage) Release(ctx context.Context, key string) error {
	d, err := s.deduper()
	if err != nil {
		return err
	}
	return d.Release(ctx, key)
}

func (s *Storage) deduper() (renew.Deduper, error) {
	if d, ok := s.hot.(renew.Deduper); ok {
		return d, nil
	}
	if d, ok := s.cold.(renew.Deduper); ok {
		return d, nil
	}
	return nil, errors.New("tiered storage: neither tier supports claims")
}
