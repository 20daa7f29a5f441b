// Package objectstore holds image bytes under (bucket, key) locators.
package objectstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Get and Head when no object exists at the locator.
var ErrNotFound = errors.New("objectstore: object not found")

// PutOptions carries the object attributes written alongside the bytes.
type PutOptions struct {
	ContentType string
	// Metadata holds string tags stored as object head attributes.
	Metadata map[string]string
}

// ObjectInfo is the head of a stored object.
type ObjectInfo struct {
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
	Metadata     map[string]string
}

// Store is the object store collaborator. Implementations are safe for
// concurrent use and hold no per-call state.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Head(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	// SignedURL returns a read link for the object valid for ttl.
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	// Locator returns the canonical address of an object as recorded in
	// metadata. It is a URL; the key is path-escaped so that parsing it
	// back yields the key unchanged.
	Locator(bucket, key string) string
}

// escapeKey path-escapes every segment of key, keeping the separators.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
