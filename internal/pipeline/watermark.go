package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"path"
	"strings"

	"imgpipe/internal/codec"
	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/watermark"
)

// WatermarkInput is the resize stage's output.
type WatermarkInput = ResizeOutput

// WatermarkOutput locates the final object.
type WatermarkOutput struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// Watermark tiles the configured text over the resized image and writes the
// result to the final namespace under the base name of in.Filename.
func (p *Pipeline) Watermark(ctx context.Context, in WatermarkInput) (out *WatermarkOutput, err error) {
	const op = "pipeline.Watermark"

	start := p.now()
	defer func() { p.metrics.Observe(StageWatermark, start, err) }()

	if in.ResizedImage == "" {
		return nil, fmt.Errorf("%s: resized_image: %w", op, models.ErrMissingField)
	}
	if in.Bucket == "" {
		return nil, fmt.Errorf("%s: bucket: %w", op, models.ErrMissingField)
	}
	name := path.Base(strings.ReplaceAll(in.Filename, `\`, "/"))
	if in.Filename == "" || name == "." || name == ".." || name == "/" {
		return nil, fmt.Errorf("%s: filename %q: %w", op, in.Filename, models.ErrMissingField)
	}

	data, err := base64.StdEncoding.DecodeString(in.ResizedImage)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidEncoding, err)
	}
	img, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidImage, err)
	}

	rgb := codec.ToRGB(img)
	mark := watermark.Mark{Text: p.cfg.WatermarkText, Face: p.font.Face(), Blend: p.cfg.WatermarkBlend}
	tiles := mark.Apply(rgb.Image.(*image.RGBA))

	encoded, err := codec.Encode(rgb, p.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	key := p.cfg.FinalPrefix + name
	err = p.store.Put(ctx, in.Bucket, key, encoded, objectstore.PutOptions{ContentType: "image/jpeg"})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrStorageWrite, err)
	}

	p.log.Info().
		Str("bucket", in.Bucket).
		Str("key", key).
		Int("tiles", tiles).
		Msg("watermark applied")

	return &WatermarkOutput{Bucket: in.Bucket, Key: key}, nil
}

// Chain runs resize and hands its output straight to watermark.
func (p *Pipeline) Chain(ctx context.Context, in ResizeInput) (*WatermarkOutput, error) {
	resized, err := p.Resize(ctx, in)
	if err != nil {
		return nil, err
	}
	return p.Watermark(ctx, *resized)
}
