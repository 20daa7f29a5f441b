// Package pipeline implements the image stages: ingestion, resize,
// watermark and metadata composition. Stages are stateless; a Pipeline only
// carries the long-lived collaborators they share.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imgpipe/internal/metrics"
	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/watermark"
)

const (
	StageIngest    = "ingest"
	StageResize    = "resize"
	StageWatermark = "watermark"
	StageMetadata  = "metadata"
)

// Table is the subset of the metadata table the stages use.
type Table interface {
	PutRecord(ctx context.Context, rec *models.MetadataRecord) error
	GetItem(ctx context.Context, id string) (models.Item, error)
}

// Pipeline is built once at process start and shared by every invocation.
// Nothing it holds is mutated after New returns; per-call state such as the
// watermark font face is created inside the stage.
type Pipeline struct {
	cfg     models.Config
	store   objectstore.Store
	table   Table
	font    *watermark.Font
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	suffix  func() string
}

type Option func(*Pipeline)

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithFont overrides the watermark font instead of loading cfg.WatermarkFont.
func WithFont(f *watermark.Font) Option {
	return func(p *Pipeline) { p.font = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSuffix replaces the random suffix used in generated filenames.
func WithSuffix(f func() string) Option {
	return func(p *Pipeline) { p.suffix = f }
}

func New(cfg models.Config, store objectstore.Store, table Table, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		store:  store,
		table:  table,
		log:    zerolog.Nop(),
		now:    time.Now,
		suffix: randomSuffix,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.font == nil {
		f, err := watermark.LoadFont(cfg.WatermarkFont, cfg.WatermarkFontSize)
		if err != nil {
			p.log.Warn().Err(err).Str("font", cfg.WatermarkFont).Msg("watermark font unavailable, using built-in face")
		}
		p.font = f
	}
	return p
}

func (p *Pipeline) Config() models.Config {
	return p.cfg
}

// randomSuffix returns 8 lowercase hex characters.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
