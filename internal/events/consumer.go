package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
	"mediapipe/internal/pipeline"
)

const readBackoff = time.Second

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Reprocessor interface {
	Reprocess(ctx context.Context, id uuid.UUID, usage models.UsageContext) (*pipeline.Result, error)
}

// Consumer handles reprocess requests one at a time, which serializes
// reprocessing of any single asset.
type Consumer struct {
	reader  MessageReader
	handler Reprocessor
	logger  *slog.Logger
}

func NewConsumer(cfg models.KafkaConfig, handler Reprocessor, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.ReprocessTopic,
		GroupID: cfg.GroupID,
	})
	return newConsumer(r, handler, logger)
}

func newConsumer(r MessageReader, handler Reprocessor, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "events"),
	}
}

// Run reads until ctx is cancelled. Bad messages and failed runs are logged
// and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.logger.Info("reprocess consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("reprocess consumer stopped")
				return nil
			}
			c.logger.Error("error reading message", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readBackoff):
			}
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var req ReprocessRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil || req.AssetID == uuid.Nil {
		c.logger.Warn("skipping malformed reprocess request",
			slog.Int64("offset", msg.Offset),
			slog.String("value", string(msg.Value)),
		)
		return
	}

	logger := c.logger.With(slog.String("asset_id", req.AssetID.String()))
	res, err := c.handler.Reprocess(ctx, req.AssetID, req.Usage)
	if err != nil {
		logger.Error("error reprocessing asset", slog.Any("error", err))
		return
	}
	logger.Info("asset reprocessed",
		slog.Int("variants", len(res.Asset.Variants)),
		slog.Int("warnings", len(res.Warnings)),
	)
}
