package pipeline

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"imgpipe/internal/codec"
	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/payload"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}

// IngestResult is the success body of an ingestion.
type IngestResult struct {
	Message     string `json:"message"`
	Filename    string `json:"filename"`
	ObjectURL   string `json:"object_url"`
	Bucket      string `json:"bucket"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	ImageFormat string `json:"image_format"`
	Size        int64  `json:"size"`
}

// Ingest normalizes an upload body and stores the image it carries. The
// "filename" and "content-type" headers are used as hints.
func (p *Pipeline) Ingest(ctx context.Context, req payload.Request) (*IngestResult, error) {
	const op = "pipeline.Ingest"

	res, err := payload.Normalize(req)
	if err != nil {
		p.metrics.Observe(StageIngest, p.now(), err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p.IngestBytes(ctx, res.Data, req.Header("filename"), res.ContentType)
}

// IngestBytes validates data as an image, writes it to the raw namespace and
// records its metadata. Only the object write can fail the call; a failed
// record write is logged and ignored.
func (p *Pipeline) IngestBytes(ctx context.Context, data []byte, filename, contentType string) (result *IngestResult, err error) {
	const op = "pipeline.IngestBytes"

	start := p.now()
	defer func() { p.metrics.Observe(StageIngest, start, err) }()

	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", op, models.ErrEmptyPayload)
	}
	img, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidImage, err)
	}

	name := deriveFilename(filename, img.Format, start, p.suffix)
	ctype := img.Format.MIME()
	if ct := strings.ToLower(strings.TrimSpace(contentType)); strings.HasPrefix(ct, "image/") {
		ctype = ct
	}
	bucket := p.cfg.Bucket
	key := p.cfg.RawPrefix + name

	err = p.store.Put(ctx, bucket, key, data, objectstore.PutOptions{
		ContentType: ctype,
		Metadata: map[string]string{
			"width":            strconv.Itoa(img.Width),
			"height":           strconv.Itoa(img.Height),
			"format":           string(img.Format),
			"mode":             string(img.Mode),
			"has_transparency": strconv.FormatBool(img.Transparent),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrStorageWrite, err)
	}

	// The locator is built from the identifier; metadata composition maps it
	// back under the raw prefix.
	objectURL := p.store.Locator(bucket, name)
	rec := &models.MetadataRecord{
		ImageID:         name,
		Bucket:          bucket,
		ObjectURL:       objectURL,
		ContentType:     ctype,
		ImageFormat:     string(img.Format),
		Mode:            string(img.Mode),
		HasTransparency: img.Transparent,
		SizeBytes:       int64(len(data)),
		Width:           img.Width,
		Height:          img.Height,
		UploadedAt:      start.Unix(),
		CreatedDate:     start.UTC().Format(time.RFC3339),
	}
	if err := p.table.PutRecord(ctx, rec); err != nil {
		p.log.Warn().Err(err).Str("image_id", name).Msg("metadata record write failed, continuing")
	}

	p.log.Info().
		Str("image_id", name).
		Str("key", key).
		Str("format", string(img.Format)).
		Int("width", img.Width).
		Int("height", img.Height).
		Int("bytes", len(data)).
		Msg("image ingested")

	return &IngestResult{
		Message:     "Image uploaded successfully with metadata",
		Filename:    name,
		ObjectURL:   objectURL,
		Bucket:      bucket,
		ObjectKey:   key,
		ContentType: ctype,
		ImageFormat: string(img.Format),
		Size:        int64(len(data)),
	}, nil
}

// deriveFilename reduces a supplied name to its base name and makes sure it
// carries an image extension. With no usable name one is generated.
func deriveFilename(supplied string, format models.ImageFormat, now time.Time, suffix func() string) string {
	name := sanitizeFilename(supplied)
	if name == "" {
		return fmt.Sprintf("upload-%s-%s.%s", now.Format("20060102_150405"), suffix(), format.Extension())
	}
	if !hasImageExtension(name) {
		name += "." + format.Extension()
	}
	return name
}

func sanitizeFilename(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, `\`, "/"))
	if s == "" {
		return ""
	}
	base := path.Base(s)
	switch base {
	case ".", "..", "/":
		return ""
	}
	return base
}

func hasImageExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
