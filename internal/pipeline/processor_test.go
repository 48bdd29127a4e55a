package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediapipe/internal/catalog"
	"mediapipe/internal/logging"
	"mediapipe/internal/models"
	"mediapipe/internal/objectstore"
	"mediapipe/internal/storage"
	"mediapipe/internal/variants"
)

var testCodecs = []models.Codec{models.CodecAVIF, models.CodecWebP, models.CodecJPEG}

type fakeEncoder struct {
	mu       sync.Mutex
	fail     func(bp string, codec models.Codec) bool
	delay    func(bp string, codec models.Codec) time.Duration
	onEncode func()
	calls    int
	inFlight int
	maxSeen  int
}

func (f *fakeEncoder) Encode(_ *models.SourceImage, bp models.BreakpointSpec, codec models.Codec) (*variants.Encoded, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.onEncode != nil {
		f.onEncode()
	}
	if f.delay != nil {
		time.Sleep(f.delay(bp.Name, codec))
	}
	if f.fail != nil && f.fail(bp.Name, codec) {
		return nil, &models.EncodeError{Breakpoint: bp.Name, Codec: codec, Err: errors.New("encoder exploded")}
	}
	data := []byte(bp.Name + "/" + string(codec))
	return &variants.Encoded{
		Width:       bp.Width,
		Height:      bp.Height,
		ByteSize:    int64(len(data)),
		Data:        data,
		ContentType: codec.ContentType(),
	}, nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (n *fakeNotifier) AssetProcessed(_ context.Context, a *models.AssetRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, a.ID)
	return n.err
}

type harness struct {
	proc     *Processor
	store    *objectstore.MemoryStore
	repo     *storage.Memory
	enc      *fakeEncoder
	notifier *fakeNotifier
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	logger := logging.NewNop()
	h := &harness{
		store:    objectstore.NewMemoryStore("https://cdn.test"),
		repo:     storage.NewMemory(),
		enc:      &fakeEncoder{},
		notifier: &fakeNotifier{},
	}
	pub := objectstore.NewPublisher(h.store, 1, time.Millisecond, logger)
	opts := Options{
		Codecs:           testCodecs,
		Concurrency:      4,
		MaxUploadBytes:   20 << 20,
		KeepOriginal:     true,
		PlaceholderWidth: 16,
		DefaultUsage:     models.UsageGallery,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.proc = New(Deps{
		Resolver:  variants.NewResolver(models.DefaultBreakpoints()),
		Encoder:   h.enc,
		Publisher: pub,
		Catalog:   catalog.New(h.repo, pub, logger),
		Notifier:  h.notifier,
		Logger:    logger,
	}, opts)
	return h
}

func jpegFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func runErr(t *testing.T, err error) *models.RunError {
	t.Helper()
	var re *models.RunError
	require.ErrorAs(t, err, &re)
	return re
}

func variantKeys(a *models.AssetRecord) []string {
	keys := make([]string, 0, len(a.Variants))
	for _, v := range a.Variants {
		keys = append(keys, v.StorageKey)
	}
	return keys
}

func TestProcessGalleryLandscape(t *testing.T) {
	h := newHarness(t)
	data := jpegFixture(t, 1600, 1067)

	res, err := h.proc.Process(context.Background(), Upload{Filename: "Beach.jpg", Data: data, AltText: "a beach", Usage: models.UsageGallery})
	require.NoError(t, err)

	a := res.Asset
	id := catalog.AssetID("beach.jpg")
	assert.Equal(t, id, a.ID)
	assert.Equal(t, 6, res.Scheduled)
	assert.Empty(t, res.Warnings)
	require.Len(t, a.Variants, 6)
	assert.Equal(t, models.Landscape, a.Orientation)
	assert.Equal(t, objectstore.VariantKey(id, "gallery", models.CodecAVIF), a.PrimaryVariantKey)
	assert.True(t, strings.HasPrefix(a.BlurPlaceholder, "data:image/jpeg;base64,"))
	assert.Equal(t, objectstore.OriginalKey(id, "jpg"), a.OriginalKey)
	assert.Equal(t, "a beach", a.AltText)

	assert.Equal(t, []string{
		objectstore.VariantKey(id, "gallery", models.CodecAVIF),
		objectstore.VariantKey(id, "gallery", models.CodecWebP),
		objectstore.VariantKey(id, "gallery", models.CodecJPEG),
		objectstore.VariantKey(id, "thumb", models.CodecAVIF),
		objectstore.VariantKey(id, "thumb", models.CodecWebP),
		objectstore.VariantKey(id, "thumb", models.CodecJPEG),
	}, variantKeys(a))

	gallery := a.Variants[0]
	assert.Equal(t, 1024, gallery.Width)
	assert.Equal(t, "https://cdn.test/"+gallery.StorageKey, gallery.PublicURL)

	assert.Len(t, h.store.Keys(), 7)
	assert.Equal(t, 1, h.repo.Len())
	assert.Equal(t, []uuid.UUID{id}, h.notifier.ids)
}

func TestProcessEmptyFileWritesNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.proc.Process(context.Background(), Upload{Filename: "empty.jpg", Data: nil})
	require.Error(t, err)

	re := runErr(t, err)
	assert.Equal(t, models.StageValidate, re.Stage)
	assert.True(t, models.IsValidation(err))
	assert.Zero(t, h.store.Puts())
	assert.Zero(t, h.repo.Len())
	assert.Zero(t, h.enc.calls)
	assert.Empty(t, h.notifier.ids)
}

func TestProcessRejectsBadInput(t *testing.T) {
	data := jpegFixture(t, 64, 48)
	tests := []struct {
		name string
		up   Upload
	}{
		{"unknown usage", Upload{Filename: "a.jpg", Data: data, Usage: "banner"}},
		{"not an image", Upload{Filename: "a.jpg", Data: []byte("hello, world")}},
		{"alt text too long", Upload{Filename: "a.jpg", Data: data, AltText: strings.Repeat("x", 1001)}},
		{"oversize", Upload{Filename: "a.jpg", Data: append(data, make([]byte, 2048)...)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) { o.MaxUploadBytes = int64(len(data)) + 1024 })
			_, err := h.proc.Process(context.Background(), tt.up)
			require.Error(t, err)
			assert.Equal(t, models.StageValidate, runErr(t, err).Stage)
			assert.True(t, models.IsValidation(err))
			assert.Zero(t, h.store.Puts())
		})
	}
}

func TestProcessDefaultsUsage(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DefaultUsage = models.UsageThumb })

	res, err := h.proc.Process(context.Background(), Upload{Filename: "t.jpg", Data: jpegFixture(t, 800, 600)})
	require.NoError(t, err)
	assert.Equal(t, models.UsageThumb, res.Asset.Usage)
	assert.Len(t, res.Asset.Variants, 3)
}

func TestProcessPartialFailureKeepsSurvivors(t *testing.T) {
	h := newHarness(t)
	h.enc.fail = func(bp string, codec models.Codec) bool {
		return bp == "gallery" && codec == models.CodecAVIF
	}
	h.store.PutHook = func(key string) error {
		if strings.HasSuffix(key, "/thumb.webp") {
			return errors.New("bucket unavailable")
		}
		return nil
	}

	res, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.NoError(t, err)

	a := res.Asset
	assert.Len(t, a.Variants, 4)
	assert.Equal(t, objectstore.VariantKey(a.ID, "gallery", models.CodecWebP), a.PrimaryVariantKey)

	require.Len(t, res.Warnings, 2)
	kinds := map[string]Warning{}
	for _, w := range res.Warnings {
		kinds[w.Kind] = w
	}
	assert.Equal(t, "gallery", kinds["encode"].Breakpoint)
	assert.Equal(t, models.CodecAVIF, kinds["encode"].Codec)
	assert.Equal(t, "thumb", kinds["publish"].Breakpoint)
	assert.Equal(t, models.CodecWebP, kinds["publish"].Codec)
}

func TestProcessAllJobsFailing(t *testing.T) {
	h := newHarness(t)
	h.enc.fail = func(string, models.Codec) bool { return true }

	_, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.Error(t, err)

	assert.Equal(t, models.StageEncode, runErr(t, err).Stage)
	assert.Contains(t, err.Error(), "all 6 variant jobs failed")
	assert.Zero(t, h.repo.Len())
	assert.Empty(t, h.store.Keys(), "uploaded original must be removed again")
	assert.Empty(t, h.notifier.ids)
}

func TestProcessAllPublishesFailingIsStorageStage(t *testing.T) {
	h := newHarness(t)
	h.store.PutHook = func(string) error { return errors.New("bucket unavailable") }

	_, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.Error(t, err)

	assert.Equal(t, models.StageStorage, runErr(t, err).Stage)
	assert.Contains(t, err.Error(), "all 6 variant jobs failed")
	assert.Zero(t, h.repo.Len())
	assert.Empty(t, h.store.Keys())
}

func TestProcessMixedFailuresIsEncodeStage(t *testing.T) {
	h := newHarness(t)
	h.enc.fail = func(bp string, _ models.Codec) bool { return bp == "gallery" }
	h.store.PutHook = func(key string) error {
		if strings.Contains(key, "/thumb.") {
			return errors.New("bucket unavailable")
		}
		return nil
	}

	_, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.Error(t, err)
	assert.Equal(t, models.StageEncode, runErr(t, err).Stage)
}

func TestProcessIgnoresCallerCancellationAfterValidation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.enc.onEncode = cancel

	res, err := h.proc.Process(ctx, Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Len(t, res.Asset.Variants, 6)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, h.repo.Len())
	assert.Len(t, h.store.Keys(), 7)
}

func TestProcessCatalogFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.repo.SaveHook = func(*models.AssetRecord) error { return errors.New("disk full") }

	_, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.Error(t, err)

	assert.Equal(t, models.StageCatalog, runErr(t, err).Stage)
	var cwe *models.CatalogWriteError
	assert.ErrorAs(t, err, &cwe)
	assert.Empty(t, h.store.Keys())
	assert.Zero(t, h.repo.Len())
}

func TestProcessCatalogFailureKeepsPreviousObjects(t *testing.T) {
	h := newHarness(t)
	data := jpegFixture(t, 1600, 1067)

	first, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: data, AltText: "v1"})
	require.NoError(t, err)
	before := h.store.Keys()

	h.repo.SaveHook = func(*models.AssetRecord) error { return errors.New("disk full") }
	_, err = h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: data, AltText: "v2"})
	require.Error(t, err)
	assert.Equal(t, models.StageCatalog, runErr(t, err).Stage)

	assert.Equal(t, before, h.store.Keys())
	got, err := h.repo.GetAsset(context.Background(), first.Asset.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", got.AltText)
}

func TestProcessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	data := jpegFixture(t, 1600, 1067)

	first, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: data})
	require.NoError(t, err)
	second, err := h.proc.Process(context.Background(), Upload{Filename: " BEACH.JPG ", Data: data})
	require.NoError(t, err)

	assert.Equal(t, first.Asset.ID, second.Asset.ID)
	assert.Equal(t, variantKeys(first.Asset), variantKeys(second.Asset))
	assert.Equal(t, first.Asset.PrimaryVariantKey, second.Asset.PrimaryVariantKey)
	assert.Equal(t, first.Asset.CreatedAt, second.Asset.CreatedAt)
	assert.Equal(t, 1, h.repo.Len())
	assert.Len(t, h.store.Keys(), 7)
}

func TestProcessOrderIndependentOfCompletion(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Concurrency = 6 })
	// Later jobs finish first.
	h.enc.delay = func(bp string, codec models.Codec) time.Duration {
		d := 30 * time.Millisecond
		if bp == "thumb" {
			d -= 15 * time.Millisecond
		}
		switch codec {
		case models.CodecWebP:
			d -= 5 * time.Millisecond
		case models.CodecJPEG:
			d -= 10 * time.Millisecond
		}
		return d
	}

	res, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.NoError(t, err)

	id := res.Asset.ID
	assert.Equal(t, objectstore.VariantKey(id, "gallery", models.CodecAVIF), res.Asset.PrimaryVariantKey)
	assert.Equal(t, objectstore.VariantKey(id, "gallery", models.CodecAVIF), res.Asset.Variants[0].StorageKey)
	assert.Equal(t, objectstore.VariantKey(id, "thumb", models.CodecJPEG), res.Asset.Variants[5].StorageKey)
}

func TestProcessRespectsConcurrencyLimit(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Concurrency = 2
		o.KeepOriginal = false
	})
	h.enc.delay = func(string, models.Codec) time.Duration { return 5 * time.Millisecond }

	_, err := h.proc.Process(context.Background(), Upload{Filename: "hero.jpg", Data: jpegFixture(t, 2400, 1600), Usage: models.UsageHero})
	require.NoError(t, err)

	assert.Equal(t, 9, h.enc.calls)
	assert.LessOrEqual(t, h.enc.maxSeen, 2)
}

func TestProcessNotifierFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("broker down")

	res, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.NoError(t, err)
	assert.Len(t, res.Asset.Variants, 6)
}

func TestReprocessFromOriginal(t *testing.T) {
	h := newHarness(t)
	first, err := h.proc.Process(context.Background(), Upload{
		Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067), AltText: "sand", Usage: models.UsageGallery,
	})
	require.NoError(t, err)
	id := first.Asset.ID

	res, err := h.proc.Reprocess(context.Background(), id, models.UsageThumb)
	require.NoError(t, err)

	assert.Equal(t, id, res.Asset.ID)
	assert.Equal(t, models.UsageThumb, res.Asset.Usage)
	assert.Equal(t, "sand", res.Asset.AltText)
	assert.Len(t, res.Asset.Variants, 3)
	assert.Equal(t, first.Asset.CreatedAt, res.Asset.CreatedAt)

	for _, key := range h.store.Keys() {
		assert.NotContains(t, key, "/gallery.", "superseded variants are cleaned up")
	}
	assert.Len(t, h.store.Keys(), 4)
}

func TestReprocessKeepsUsageWhenEmpty(t *testing.T) {
	h := newHarness(t)
	first, err := h.proc.Process(context.Background(), Upload{Filename: "p.jpg", Data: jpegFixture(t, 600, 900), Usage: models.UsageThumb})
	require.NoError(t, err)
	assert.Equal(t, models.Portrait, first.Asset.Orientation)

	res, err := h.proc.Reprocess(context.Background(), first.Asset.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.UsageThumb, res.Asset.Usage)
}

func TestReprocessWithoutOriginal(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.KeepOriginal = false })
	first, err := h.proc.Process(context.Background(), Upload{Filename: "beach.jpg", Data: jpegFixture(t, 1600, 1067)})
	require.NoError(t, err)
	assert.Empty(t, first.Asset.OriginalKey)

	_, err = h.proc.Reprocess(context.Background(), first.Asset.ID, "")
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestReprocessUnknownAsset(t *testing.T) {
	h := newHarness(t)
	_, err := h.proc.Reprocess(context.Background(), uuid.New(), "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSummarizeTruncates(t *testing.T) {
	ws := make([]Warning, 5)
	for i := range ws {
		ws[i] = Warning{Message: fmt.Sprintf("e%d", i)}
	}
	assert.Equal(t, "e0; e1; e2; and 2 more", summarize(ws))
	assert.Equal(t, "no details", summarize(nil))
}
