package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
)

// ComposedMetadata merges a stored record with the live object head and a
// signed download link. It is never persisted.
type ComposedMetadata map[string]any

// ComposeMetadata resolves the record for id, heads the object it points at
// and returns the merged view.
//
// The record's locator is always reduced to a key and placed under the raw
// prefix, so the view describes the ingested original even when a final
// rendition exists.
func (p *Pipeline) ComposeMetadata(ctx context.Context, id string) (meta ComposedMetadata, err error) {
	const op = "pipeline.ComposeMetadata"

	start := p.now()
	defer func() { p.metrics.Observe(StageMetadata, start, err) }()

	if id == "" {
		return nil, fmt.Errorf("%s: image id: %w", op, models.ErrMissingField)
	}
	item, err := p.table.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%s: image %s: %w", op, id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	locator, _ := item[models.ItemKeyObjectURL].(string)
	if locator == "" {
		return nil, fmt.Errorf("%s: %s missing from record %s: %w", op, models.ItemKeyObjectURL, id, models.ErrMissingField)
	}
	bucket := p.cfg.Bucket
	name, err := objectKey(locator, bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: record %s: %w", op, id, err)
	}
	key := p.cfg.RawPrefix + name

	head, err := p.store.Head(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%s: %s/%s: %w", op, bucket, key, models.ErrUpstreamUnavailable)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	meta = ComposedMetadata{
		models.ItemKeyImageID: id,
		"bucket":              bucket,
		"object_key":          key,
		"size":                head.Size,
		"content_type":        head.ContentType,
		"last_modified":       head.LastModified.UTC().Format(time.RFC3339),
	}
	for k, v := range item {
		if k == models.ItemKeyImageID || k == models.ItemKeyObjectURL {
			continue
		}
		meta[k] = normalizeNumbers(v)
	}

	link, err := p.store.SignedURL(ctx, bucket, key, p.cfg.PresignTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	meta["download_url"] = link
	return meta, nil
}

// objectKey reduces a locator to a key. Accepted forms are a bare key, an
// http(s) URL in virtual-host or path style, and a scheme://bucket/key URI.
// URL paths are unescaped, so keys holding '%', '#' or '?' survive when the
// locator was built with an escaped path.
func objectKey(locator, bucket string) (string, error) {
	if !strings.Contains(locator, "://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("%w: locator %q: %v", models.ErrInvalidLocator, locator, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if !strings.HasPrefix(u.Host, bucket+".") {
			key = strings.TrimPrefix(key, bucket+"/")
		}
	}
	if key == "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: locator %q", models.ErrInvalidLocator, locator)
	}
	return key, nil
}

// normalizeNumbers renders exact numbers as integers when they have no
// fractional part and as floats otherwise.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return int64(f)
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNumbers(e)
		}
		return out
	default:
		return v
	}
}
