// Package events consumes ledger-update notifications published by ingestion
// and drops the cached reports they make stale.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/metrics"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LedgerUpdated is published after ingestion writes ledger rows for an owner.
type LedgerUpdated struct {
	OwnerID   string    `json:"owner_id"`
	Platform  string    `json:"platform,omitempty"`
	StartDate string    `json:"start_date,omitempty"`
	EndDate   string    `json:"end_date,omitempty"`
	SentAt    time.Time `json:"sent_at,omitempty"`
}

// Invalidator drops an owner's cached reports.
type Invalidator interface {
	Invalidate(ctx context.Context, owner, trigger string)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads the ledger topic in one goroutine.
type Consumer struct {
	reader      messageReader
	invalidator Invalidator
	logger      *zap.Logger
	metrics     *metrics.Metrics
	topic       string

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg config.KafkaConfig, inv Invalidator, logger *zap.Logger, m *metrics.Metrics) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})
	return newConsumer(reader, cfg.Topic, inv, logger, m), nil
}

func newConsumer(r messageReader, topic string, inv Invalidator, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		reader:      r,
		invalidator: inv,
		logger:      logger,
		metrics:     m,
		topic:       topic,
	}
}

// Start begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("consumer is already running")
	}
	c.running = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("ledger event consumer started", zap.String("topic", c.topic))
	return nil
}

// Stop cancels the loop, waits for it and closes the reader.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	c.logger.Info("ledger event consumer stopped")
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.RecordLedgerEvent("fetch_error")
			c.logger.Error("failed to fetch ledger event", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit ledger event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

// handle invalidates the owner named by msg. Undecodable messages are logged
// and skipped so one bad event never blocks the partition.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var ev LedgerUpdated
	if err := json.Unmarshal(msg.Value, &ev); err != nil || ev.OwnerID == "" {
		c.metrics.RecordLedgerEvent("invalid")
		c.logger.Warn("skipping invalid ledger event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("value", msg.Value),
		)
		return
	}
	c.invalidator.Invalidate(ctx, ev.OwnerID, "ledger_update")
	c.metrics.RecordLedgerEvent("applied")
	c.logger.Debug("ledger event applied",
		zap.String("owner", ev.OwnerID),
		zap.String("platform", ev.Platform),
	)
}
