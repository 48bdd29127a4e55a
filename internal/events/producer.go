// Package events carries asset lifecycle notifications and reprocess
// requests over Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
)

const (
	TypeAssetProcessed = "asset.processed"
	TypeAssetDeleted   = "asset.deleted"
	TypeReprocess      = "asset.reprocess"

	headerType = "type"
)

// AssetEvent is the payload of asset.processed and asset.deleted.
type AssetEvent struct {
	Type       string              `json:"type"`
	AssetID    uuid.UUID           `json:"asset_id"`
	Filename   string              `json:"filename"`
	Usage      models.UsageContext `json:"usage,omitempty"`
	PrimaryURL string              `json:"primary_url,omitempty"`
	Variants   int                 `json:"variants"`
	OccurredAt time.Time           `json:"occurred_at"`
}

type ReprocessRequest struct {
	AssetID uuid.UUID           `json:"asset_id"`
	Usage   models.UsageContext `json:"usage,omitempty"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes to both topics. Messages are keyed by asset id so every
// message about one asset lands on the same partition.
type Producer struct {
	writer         MessageWriter
	eventsTopic    string
	reprocessTopic string
	logger         *slog.Logger
	now            func() time.Time
}

func NewProducer(cfg models.KafkaConfig, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newProducer(w, cfg, logger)
}

func newProducer(w MessageWriter, cfg models.KafkaConfig, logger *slog.Logger) *Producer {
	return &Producer{
		writer:         w,
		eventsTopic:    cfg.EventsTopic,
		reprocessTopic: cfg.ReprocessTopic,
		logger:         logging.NewComponentLogger(logger, "events"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (p *Producer) AssetProcessed(ctx context.Context, a *models.AssetRecord) error {
	ev := p.assetEvent(TypeAssetProcessed, a)
	if primary := a.Primary(); primary != nil {
		ev.PrimaryURL = primary.PublicURL
	}
	return p.write(ctx, p.eventsTopic, ev.Type, a.ID, ev)
}

func (p *Producer) AssetDeleted(ctx context.Context, a *models.AssetRecord) error {
	ev := p.assetEvent(TypeAssetDeleted, a)
	return p.write(ctx, p.eventsTopic, ev.Type, a.ID, ev)
}

// RequestReprocess queues a reprocess of id for the consumer.
func (p *Producer) RequestReprocess(ctx context.Context, id uuid.UUID, usage models.UsageContext) error {
	return p.write(ctx, p.reprocessTopic, TypeReprocess, id, ReprocessRequest{AssetID: id, Usage: usage})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) assetEvent(typ string, a *models.AssetRecord) AssetEvent {
	return AssetEvent{
		Type:       typ,
		AssetID:    a.ID,
		Filename:   a.Filename,
		Usage:      a.Usage,
		Variants:   len(a.Variants),
		OccurredAt: p.now(),
	}
}

func (p *Producer) write(ctx context.Context, topic, typ string, id uuid.UUID, payload any) error {
	const op = "events.write"

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(id.String()),
		Value:   value,
		Headers: []kafka.Header{{Key: headerType, Value: []byte(typ)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%s: %s to %s: %w", op, typ, topic, err)
	}
	p.logger.Debug("message written", slog.String("type", typ), slog.String("topic", topic), slog.String("asset_id", id.String()))
	return nil
}
