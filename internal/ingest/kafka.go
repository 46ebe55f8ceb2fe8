package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"signalwatch/internal/config"
	"signalwatch/internal/logging"
)

const maxBackoff = 10 * time.Second

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds events from a Kafka topic into a Sink. Offsets are
// committed after each message is handled, whether or not it was accepted.
type Consumer struct {
	reader messageReader
	sink   Sink
	logger *slog.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, sink Sink, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, sink, logger)
}

func newConsumer(reader messageReader, sink Sink, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Consumer{reader: reader, sink: sink, logger: logger}
}

// StartKafka launches a consumer when kafka ingest is enabled.
func StartKafka(ctx context.Context, cfg *config.Manager, sink Sink, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	c := NewKafkaConsumer(current, sink, logger)
	go c.Run(ctx)
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	backoff := 200 * time.Millisecond
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka read error", "err", err, "retry_in", backoff.String())
			if !BackoffSleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond
		c.handle(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("kafka commit error", "err", err, "partition", m.Partition, "offset", m.Offset)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	ev, err := Deliver(ctx, c.sink, m.Value)
	if err != nil {
		c.logger.Warn("kafka message rejected",
			"err", err,
			"partition", m.Partition,
			"offset", m.Offset,
		)
		return
	}
	c.logger.Debug("kafka event accepted",
		"event_id", ev.ID,
		"correlation_id", ev.CorrelationID,
		"offset", m.Offset,
	)
}
