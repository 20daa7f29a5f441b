package objectstore

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	s, err := NewFilesystemStore(t.TempDir(), "http://localhost:8080/objects", []byte("secret"))
	require.NoError(t, err)
	return s
}

func TestFilesystemStorePutGetHead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	data := []byte("jpeg bytes")
	err := s.Put(ctx, "media", "uploaded/cat.png", data, PutOptions{
		ContentType: "image/png",
		Metadata:    map[string]string{"width": "10"},
	})
	require.NoError(t, err)

	got, err := s.Get(ctx, "media", "uploaded/cat.png")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := s.Head(ctx, "media", "uploaded/cat.png")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "image/png", info.ContentType)
	assert.Equal(t, "10", info.Metadata["width"])
	assert.Len(t, info.ETag, 16)
	assert.WithinDuration(t, time.Now(), info.LastModified, time.Minute)
}

func TestFilesystemStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "b", "k.jpg", []byte("one"), PutOptions{ContentType: "image/jpeg"}))
	first, err := s.Head(ctx, "b", "k.jpg")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "b", "k.jpg", []byte("second"), PutOptions{ContentType: "image/jpeg"}))
	got, err := s.Get(ctx, "b", "k.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	second, err := s.Head(ctx, "b", "k.jpg")
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag)
}

func TestFilesystemStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "b", "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Head(ctx, "b", "missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFilesystemStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, key := range []string{"../../etc/passwd", "a/../b", "/abs", "", `a\b`, "a//b"} {
		err := s.Put(ctx, "b", key, []byte("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
	for _, bucket := range []string{"", "..", "a/b"} {
		_, err := s.Get(ctx, bucket, "k")
		assert.ErrorIs(t, err, ErrInvalidKey, bucket)
	}
}

func TestFilesystemStoreSignedURL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	raw, err := s.SignedURL(ctx, "media", "uploaded/cat.png", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/objects/media/uploaded/cat.png", u.Path)
	assert.Equal(t, "1700003600", u.Query().Get("expires"))

	sig := u.Query().Get("signature")
	require.NoError(t, s.Verify("media", "uploaded/cat.png", "1700003600", sig))
	assert.ErrorIs(t, s.Verify("media", "uploaded/dog.png", "1700003600", sig), ErrInvalidSignature)
	assert.ErrorIs(t, s.Verify("media", "uploaded/cat.png", "1700009999", sig), ErrInvalidSignature)

	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, s.Verify("media", "uploaded/cat.png", "1700003600", sig), ErrExpired)
}

func TestFilesystemStoreSignedURLEscapesKey(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"uploaded/50%off.png", "uploaded/a#b.png", "uploaded/what?.png", "uploaded/a%20b.png"} {
		raw, err := s.SignedURL(context.Background(), "media", key, time.Hour)
		require.NoError(t, err, key)

		u, err := url.Parse(raw)
		require.NoError(t, err, key)
		assert.Equal(t, "/objects/media/"+key, u.Path)
		assert.Empty(t, u.Fragment, key)
		require.NoError(t, s.Verify("media", key, u.Query().Get("expires"), u.Query().Get("signature")), key)
	}
}

func TestFilesystemStoreLocator(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, "fs://media/cat.png", s.Locator("media", "cat.png"))
	assert.Equal(t, "fs://media/dir/50%25off%20a%23b%3F.png", s.Locator("media", "dir/50%off a#b?.png"))

	u, err := url.Parse(s.Locator("media", "dir/50%off a#b?.png"))
	require.NoError(t, err)
	assert.Equal(t, "media", u.Host)
	assert.Equal(t, "/dir/50%off a#b?.png", u.Path)
}

func TestFilesystemStoreFailedPutLeavesNoAttributes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// a directory where the object file should go makes the rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "objects", "media", "k.png", "sub"), 0o755))

	err := s.Put(ctx, "media", "k.png", []byte("data"), PutOptions{ContentType: "image/png"})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(s.root, "attrs", "media", "k.png.json"))
	assert.True(t, os.IsNotExist(statErr), "sidecar left behind: %v", statErr)
}
