package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelsearch/kestrel/internal/document"
	"github.com/kestrelsearch/kestrel/internal/manager"
	"github.com/kestrelsearch/kestrel/pkg/kafka"
	"github.com/kestrelsearch/kestrel/pkg/logger"
	"github.com/kestrelsearch/kestrel/pkg/resilience"
)

// Consumer wraps a Kafka consumer that applies record-lifecycle events to
// the index.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates a Consumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *Consumer {
	return &Consumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("lifecycle-consumer"),
	}
}

// Start begins consuming record events. It blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("lifecycle consumer starting")
	return c.consumer.Start(ctx)
}

// Close shuts the underlying Kafka reader down.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// HandleRecordEvent returns a Kafka MessageHandler that applies one record
// event to the manager. Undecodable events are logged and skipped so a
// poison message cannot wedge the partition; index write failures are
// retried before the message is surfaced back to the consumer.
func HandleRecordEvent(mgr *manager.Manager) kafka.MessageHandler {
	log := logger.WithComponent("lifecycle-consumer")
	retryCfg := resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[RecordEvent](value)
		if err != nil {
			log.Error("failed to decode record event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if event.Class == "" || event.ObjectID == "" {
			log.Error("record event missing identity",
				"type", event.Type,
				"key", string(key),
			)
			return nil
		}

		docKey := document.Key{Class: event.Class, ObjectID: event.ObjectID}
		switch event.Type {
		case EventPersisted:
			rec := document.MapRecord{
				RecordClass: event.Class,
				ID:          event.ObjectID,
				Fields:      event.Fields,
			}
			if rec.Fields == nil {
				rec.Fields = map[string]string{}
			}
			if _, ok := rec.Fields["LastEdited"]; !ok && !event.LastEdited.IsZero() {
				rec.Fields["LastEdited"] = event.LastEdited.UTC().Format(time.RFC3339)
			}
			err = resilience.Retry(ctx, "index-record", retryCfg, func() error {
				return mgr.IndexRecord(ctx, rec)
			})
			if err != nil {
				return fmt.Errorf("indexing %s: %w", docKey, err)
			}
			log.Debug("record indexed", "key", docKey.String())
		case EventRemoved:
			err = resilience.Retry(ctx, "delete-record", retryCfg, func() error {
				return mgr.DeleteRecord(ctx, docKey)
			})
			if err != nil {
				return fmt.Errorf("deleting %s: %w", docKey, err)
			}
			log.Debug("record removed", "key", docKey.String())
		default:
			log.Error("unknown record event type",
				"type", event.Type,
				"key", docKey.String(),
			)
		}
		return nil
	}
}
