package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"mediapipe/internal/catalog"
	"mediapipe/internal/logging"
	"mediapipe/internal/models"
	"mediapipe/internal/objectstore"
	"mediapipe/internal/variants"
)

const maxAltTextLength = 1000

type VariantEncoder interface {
	Encode(src *models.SourceImage, bp models.BreakpointSpec, codec models.Codec) (*variants.Encoded, error)
}

type ObjectPublisher interface {
	Publish(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type AssetCatalog interface {
	Get(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error)
	Upsert(ctx context.Context, a *models.AssetRecord) (*models.AssetRecord, error)
}

// Notifier is told about committed runs. Failures are logged only.
type Notifier interface {
	AssetProcessed(ctx context.Context, a *models.AssetRecord) error
}

type Deps struct {
	Resolver  *variants.Resolver
	Encoder   VariantEncoder
	Publisher ObjectPublisher
	Catalog   AssetCatalog
	Notifier  Notifier
	Logger    *slog.Logger
}

type Options struct {
	Codecs           []models.Codec // priority order
	Concurrency      int
	MaxUploadBytes   int64
	KeepOriginal     bool
	PlaceholderWidth int
	DefaultUsage     models.UsageContext
}

type Processor struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func New(deps Deps, opts Options) *Processor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.DefaultUsage == "" {
		opts.DefaultUsage = models.UsageGallery
	}
	return &Processor{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(deps.Logger, "pipeline"),
	}
}

// Upload is one request to process a source image.
type Upload struct {
	Filename string
	Data     []byte
	AltText  string
	Usage    models.UsageContext // empty means the default context
}

type Warning struct {
	Kind       string       `json:"kind"` // encode, publish, placeholder, original
	Breakpoint string       `json:"breakpoint,omitempty"`
	Codec      models.Codec `json:"codec,omitempty"`
	Message    string       `json:"message"`
}

type Result struct {
	Asset     *models.AssetRecord `json:"asset"`
	Warnings  []Warning           `json:"warnings"`
	Scheduled int                 `json:"scheduled"`
}

type job struct {
	spec  models.BreakpointSpec
	codec models.Codec
}

type jobResult struct {
	job     job
	variant *models.VariantRecord
	warning *Warning
}

// Process validates up, fans the encode/publish jobs out over the worker
// pool, and commits the settled results to the catalog.
func (p *Processor) Process(ctx context.Context, up Upload) (*Result, error) {
	start := time.Now()

	usage, err := p.usageFor(up.Usage)
	if err != nil {
		return nil, &models.RunError{Stage: models.StageValidate, Err: err}
	}
	alt := strings.TrimSpace(up.AltText)
	if utf8.RuneCountInString(alt) > maxAltTextLength {
		return nil, &models.RunError{Stage: models.StageValidate, Err: &models.ValidationError{
			Field: "alt_text", Reason: fmt.Sprintf("longer than %d characters", maxAltTextLength),
		}}
	}
	src, err := variants.LoadSource(up.Filename, up.Data, p.opts.MaxUploadBytes)
	if err != nil {
		return nil, &models.RunError{Stage: models.StageValidate, Err: err}
	}
	orientation, err := variants.Classify(src.Width, src.Height)
	if err != nil {
		return nil, &models.RunError{Stage: models.StageValidate, Err: err}
	}
	specs, err := p.deps.Resolver.Resolve(usage, orientation, src.Width, src.Height)
	if err != nil {
		return nil, &models.RunError{Stage: models.StageValidate, Err: err}
	}

	// Once validated, a run always completes: jobs, commit and rollback
	// ignore caller cancellation.
	ctx = context.WithoutCancel(ctx)

	id := catalog.AssetID(src.Filename)
	logger := p.logger.With(slog.String("asset_id", id.String()), slog.String("filename", src.Filename))

	var jobs []job
	for _, spec := range specs {
		for _, codec := range p.opts.Codecs {
			jobs = append(jobs, job{spec: spec, codec: codec})
		}
	}

	var warnings []Warning
	placeholder, err := variants.BlurPlaceholder(src.Image, p.opts.PlaceholderWidth)
	if err != nil {
		warnings = append(warnings, Warning{Kind: "placeholder", Message: err.Error()})
	}

	results, originalKey, originalWarn := p.runJobs(ctx, id, src, jobs)
	if originalWarn != nil {
		warnings = append(warnings, *originalWarn)
	}

	var (
		produced        []models.VariantRecord
		publishFailures int
	)
	uploaded := make([]string, 0, len(results)+1)
	for _, r := range results {
		if r.warning != nil {
			warnings = append(warnings, *r.warning)
			if r.warning.Kind == "publish" {
				publishFailures++
			}
			logger.Warn("variant dropped",
				slog.String("breakpoint", r.job.spec.Name),
				slog.String("codec", string(r.job.codec)),
				slog.String("kind", r.warning.Kind),
				slog.String("error", r.warning.Message),
			)
			continue
		}
		produced = append(produced, *r.variant)
		uploaded = append(uploaded, r.variant.StorageKey)
	}
	if originalKey != "" {
		uploaded = append(uploaded, originalKey)
	}

	prev, err := p.deps.Catalog.Get(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		logger.Warn("could not read existing record", slog.Any("error", err))
		prev = nil
	}

	if len(produced) == 0 {
		p.rollback(ctx, logger, prev, uploaded)
		stage := models.StageEncode
		if publishFailures > 0 && publishFailures == len(results) {
			stage = models.StageStorage
		}
		return nil, &models.RunError{
			Stage: stage,
			Err:   fmt.Errorf("all %d variant jobs failed: %s", len(jobs), summarize(warnings)),
		}
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	catalog.SortVariants(produced, names, p.opts.Codecs)
	primary, _ := catalog.SelectPrimary(produced, names, p.opts.Codecs)

	record := &models.AssetRecord{
		ID:                id,
		Filename:          src.Filename,
		AltText:           alt,
		Usage:             usage,
		Orientation:       orientation,
		SourceWidth:       src.Width,
		SourceHeight:      src.Height,
		SourceFormat:      src.Format,
		BlurPlaceholder:   placeholder,
		OriginalKey:       originalKey,
		PrimaryVariantKey: primary,
		Variants:          produced,
	}
	if originalKey == "" && prev != nil {
		record.OriginalKey = prev.OriginalKey
	}

	committed, err := p.deps.Catalog.Upsert(ctx, record)
	if err != nil {
		p.rollback(ctx, logger, prev, uploaded)
		return nil, &models.RunError{Stage: models.StageCatalog, Err: err}
	}

	logger.Info("asset processed",
		slog.String("usage", string(usage)),
		slog.String("orientation", string(committed.Orientation)),
		slog.Int("scheduled", len(jobs)),
		slog.Int("variants", len(committed.Variants)),
		slog.Int("warnings", len(warnings)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.AssetProcessed(ctx, committed); err != nil {
			logger.Warn("asset event not delivered", slog.Any("error", err))
		}
	}

	return &Result{Asset: committed, Warnings: warnings, Scheduled: len(jobs)}, nil
}

// runJobs is the join barrier: it returns only after every job and the
// optional original upload have settled.
func (p *Processor) runJobs(ctx context.Context, id uuid.UUID, src *models.SourceImage, jobs []job) ([]jobResult, string, *Warning) {
	out := make(chan jobResult, len(jobs))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	var (
		originalKey  string
		originalWarn *Warning
	)
	if p.opts.KeepOriginal {
		g.Go(func() error {
			key := objectstore.OriginalKey(id, variants.SourceExtension(src.Format))
			if _, err := p.deps.Publisher.Publish(ctx, key, src.Data, src.Format); err != nil {
				originalWarn = &Warning{Kind: "original", Message: err.Error()}
				return nil
			}
			originalKey = key
			return nil
		})
	}

	for _, j := range jobs {
		g.Go(func() error {
			out <- p.runJob(ctx, id, src, j)
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	results := make([]jobResult, 0, len(jobs))
	for r := range out {
		results = append(results, r)
	}
	return results, originalKey, originalWarn
}

func (p *Processor) runJob(ctx context.Context, id uuid.UUID, src *models.SourceImage, j job) jobResult {
	res := jobResult{job: j}

	enc, err := p.deps.Encoder.Encode(src, j.spec, j.codec)
	if err != nil {
		res.warning = &Warning{Kind: "encode", Breakpoint: j.spec.Name, Codec: j.codec, Message: err.Error()}
		return res
	}

	key := objectstore.VariantKey(id, j.spec.Name, j.codec)
	url, err := p.deps.Publisher.Publish(ctx, key, enc.Data, enc.ContentType)
	if err != nil {
		res.warning = &Warning{Kind: "publish", Breakpoint: j.spec.Name, Codec: j.codec, Message: err.Error()}
		return res
	}

	res.variant = &models.VariantRecord{
		Breakpoint: j.spec.Name,
		Codec:      j.codec,
		Width:      enc.Width,
		Height:     enc.Height,
		ByteSize:   enc.ByteSize,
		StorageKey: key,
		PublicURL:  url,
		Capped:     j.spec.Capped,
	}
	return res
}

// rollback deletes objects this run uploaded unless the existing record
// still references them; those were overwritten in place and stay valid.
func (p *Processor) rollback(ctx context.Context, logger *slog.Logger, prev *models.AssetRecord, uploaded []string) {
	owned := map[string]bool{}
	if prev != nil {
		for _, k := range prev.StorageKeys() {
			owned[k] = true
		}
	}

	var errs error
	removed := 0
	for _, key := range uploaded {
		if owned[key] {
			continue
		}
		if err := p.deps.Publisher.Remove(ctx, key); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
	}
	if errs != nil {
		logger.Warn("rollback incomplete, objects orphaned",
			slog.Int("removed", removed),
			slog.Int("orphaned", len(multierr.Errors(errs))),
			slog.Any("error", errs),
		)
		return
	}
	if removed > 0 {
		logger.Info("rolled back uploaded objects", slog.Int("removed", removed))
	}
}

// Reprocess reruns the pipeline for an existing asset from its retained
// original. An empty usage keeps the asset's current context.
func (p *Processor) Reprocess(ctx context.Context, id uuid.UUID, usage models.UsageContext) (*Result, error) {
	prev, err := p.deps.Catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.OriginalKey == "" {
		return nil, &models.RunError{Stage: models.StageValidate, Err: &models.ValidationError{
			Field: "original", Reason: "asset has no retained original to reprocess",
		}}
	}
	data, err := p.deps.Publisher.Fetch(ctx, prev.OriginalKey)
	if err != nil {
		return nil, fmt.Errorf("pipeline.Reprocess: %w", err)
	}
	if usage == "" {
		usage = prev.Usage
	}
	return p.Process(ctx, Upload{Filename: prev.Filename, Data: data, AltText: prev.AltText, Usage: usage})
}

func (p *Processor) usageFor(u models.UsageContext) (models.UsageContext, error) {
	if u == "" {
		return p.opts.DefaultUsage, nil
	}
	if _, ok := models.ParseUsageContext(string(u)); !ok {
		return "", &models.ValidationError{Field: "usage", Reason: fmt.Sprintf("unknown usage context %q", u)}
	}
	return u, nil
}

func summarize(ws []Warning) string {
	if len(ws) == 0 {
		return "no details"
	}
	msgs := make([]string, 0, len(ws))
	for _, w := range ws {
		msgs = append(msgs, w.Message)
	}
	if len(msgs) > 3 {
		msgs = append(msgs[:3], fmt.Sprintf("and %d more", len(ws)-3))
	}
	return strings.Join(msgs, "; ")
}
