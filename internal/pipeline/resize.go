package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"imgpipe/internal/codec"
	"imgpipe/internal/models"
)

// ResizeInput accepts either an explicit locator or an object-created event.
type ResizeInput struct {
	Bucket   string              `json:"bucket,omitempty"`
	Filename string              `json:"filename,omitempty"`
	Detail   *models.EventDetail `json:"detail,omitempty"`
}

// ResizeOutput hands the resized JPEG inline to the watermark stage.
type ResizeOutput struct {
	Bucket       string `json:"bucket"`
	Filename     string `json:"filename"`
	ResizedImage string `json:"resized_image"`
}

// ParseResizeInput decodes a trigger payload.
func ParseResizeInput(raw []byte) (ResizeInput, error) {
	var in ResizeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return ResizeInput{}, fmt.Errorf("%w: %v", models.ErrInvalidTrigger, err)
	}
	return in, nil
}

// EventInput builds the event-shaped input for an object.
func EventInput(bucket, key string) ResizeInput {
	return ResizeInput{Detail: &models.EventDetail{
		Bucket: &models.EventBucket{Name: bucket},
		Object: &models.EventObject{Key: key},
	}}
}

// Locator returns the (bucket, key) named by the input.
func (in ResizeInput) Locator() (string, string, error) {
	switch {
	case in.Bucket != "" && in.Filename != "":
		return in.Bucket, in.Filename, nil
	case in.Detail != nil && in.Detail.Bucket != nil && in.Detail.Object != nil &&
		in.Detail.Bucket.Name != "" && in.Detail.Object.Key != "":
		return in.Detail.Bucket.Name, in.Detail.Object.Key, nil
	default:
		return "", "", models.ErrInvalidTrigger
	}
}

// Resize fetches the raw object, flattens it to RGB, scales it to the
// configured square and returns it base64 encoded. Every failure is fatal.
func (p *Pipeline) Resize(ctx context.Context, in ResizeInput) (out *ResizeOutput, err error) {
	const op = "pipeline.Resize"

	start := p.now()
	defer func() { p.metrics.Observe(StageResize, start, err) }()

	bucket, key, err := in.Locator()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	data, err := p.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("%s: fetch %s/%s: %w", op, bucket, key, err)
	}
	img, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidImage, err)
	}

	size := p.cfg.ResizeSize
	resized, err := codec.Resize(codec.ToRGB(img), size, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	encoded, err := codec.Encode(resized, p.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p.log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int("from_w", img.Width).
		Int("from_h", img.Height).
		Int("size", size).
		Msg("image resized")

	return &ResizeOutput{
		Bucket:       bucket,
		Filename:     key,
		ResizedImage: base64.StdEncoding.EncodeToString(encoded),
	}, nil
}
