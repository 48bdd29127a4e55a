package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapipe/internal/logging"
	"mediapipe/internal/models"
	"mediapipe/internal/pipeline"
)

var testKafka = models.KafkaConfig{
	Brokers:        []string{"localhost:9092"},
	EventsTopic:    "media.assets",
	ReprocessTopic: "media.reprocess",
	GroupID:        "test",
}

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func testAsset() *models.AssetRecord {
	id := uuid.MustParse("6f1c1d1e-2b0a-5c3e-9f4a-0a1b2c3d4e5f")
	return &models.AssetRecord{
		ID:                id,
		Filename:          "beach.jpg",
		Usage:             models.UsageGallery,
		PrimaryVariantKey: "assets/" + id.String() + "/gallery.avif",
		Variants: []models.VariantRecord{
			{Breakpoint: "gallery", Codec: models.CodecAVIF, StorageKey: "assets/" + id.String() + "/gallery.avif", PublicURL: "https://cdn.test/g.avif"},
			{Breakpoint: "thumb", Codec: models.CodecAVIF, StorageKey: "assets/" + id.String() + "/thumb.avif"},
		},
	}
}

func TestProducerAssetProcessed(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, testKafka, logging.NewNop())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	a := testAsset()
	require.NoError(t, p.AssetProcessed(context.Background(), a))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "media.assets", msg.Topic)
	assert.Equal(t, a.ID.String(), string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, TypeAssetProcessed, string(msg.Headers[0].Value))

	var ev AssetEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, TypeAssetProcessed, ev.Type)
	assert.Equal(t, a.ID, ev.AssetID)
	assert.Equal(t, 2, ev.Variants)
	assert.Equal(t, "https://cdn.test/g.avif", ev.PrimaryURL)
	assert.True(t, fixed.Equal(ev.OccurredAt))
}

func TestProducerAssetDeleted(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, testKafka, logging.NewNop())

	require.NoError(t, p.AssetDeleted(context.Background(), testAsset()))
	var ev AssetEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, TypeAssetDeleted, ev.Type)
	assert.Empty(t, ev.PrimaryURL)
}

func TestProducerRequestReprocess(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, testKafka, logging.NewNop())
	id := uuid.New()

	require.NoError(t, p.RequestReprocess(context.Background(), id, models.UsageHero))
	msg := w.msgs[0]
	assert.Equal(t, "media.reprocess", msg.Topic)

	var req ReprocessRequest
	require.NoError(t, json.Unmarshal(msg.Value, &req))
	assert.Equal(t, ReprocessRequest{AssetID: id, Usage: models.UsageHero}, req)
}

func TestProducerWrapsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := newProducer(w, testKafka, logging.NewNop())

	err := p.AssetProcessed(context.Background(), testAsset())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asset.processed to media.assets")
	assert.ErrorIs(t, err, w.err)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

// queueReader hands out queued messages and errors, then blocks until ctx ends.
type queueReader struct {
	mu     sync.Mutex
	items  []any
	closed bool
}

func (r *queueReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.items) > 0 {
		item := r.items[0]
		r.items = r.items[1:]
		r.mu.Unlock()
		if err, ok := item.(error); ok {
			return kafka.Message{}, err
		}
		return item.(kafka.Message), nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type call struct {
	id    uuid.UUID
	usage models.UsageContext
}

type fakeReprocessor struct {
	mu    sync.Mutex
	calls []call
	done  chan struct{}
	err   error
}

func (f *fakeReprocessor) Reprocess(_ context.Context, id uuid.UUID, usage models.UsageContext) (*pipeline.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{id, usage})
	f.mu.Unlock()
	f.done <- struct{}{}
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{Asset: &models.AssetRecord{ID: id}}, nil
}

func reprocessMessage(t *testing.T, req ReprocessRequest) kafka.Message {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestConsumerDispatchesRequests(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	reader := &queueReader{items: []any{
		reprocessMessage(t, ReprocessRequest{AssetID: first, Usage: models.UsageThumb}),
		kafka.Message{Value: []byte("{not json")},
		kafka.Message{Value: []byte(`{"usage":"hero"}`)},
		errors.New("broker hiccup"),
		reprocessMessage(t, ReprocessRequest{AssetID: second}),
	}}
	handler := &fakeReprocessor{done: make(chan struct{}, 2), err: nil}
	c := newConsumer(reader, handler, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-handler.done:
		case <-time.After(5 * time.Second):
			t.Fatal("reprocess request not handled")
		}
	}
	cancel()
	require.NoError(t, <-finished)

	assert.Equal(t, []call{{first, models.UsageThumb}, {second, ""}}, handler.calls)
	assert.True(t, reader.closed)
}

func TestConsumerSurvivesHandlerFailure(t *testing.T) {
	id := uuid.New()
	reader := &queueReader{items: []any{
		reprocessMessage(t, ReprocessRequest{AssetID: id}),
		reprocessMessage(t, ReprocessRequest{AssetID: id}),
	}}
	handler := &fakeReprocessor{done: make(chan struct{}, 2), err: models.ErrNotFound}
	c := newConsumer(reader, handler, logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan error, 1)
	go func() { finished <- c.Run(ctx) }()

	<-handler.done
	<-handler.done
	cancel()
	require.NoError(t, <-finished)
	assert.Len(t, handler.calls, 2)
}
