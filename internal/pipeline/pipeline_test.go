package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/storage"
	"imgpipe/internal/watermark"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type env struct {
	p     *Pipeline
	store *countingStore
	table *countingTable
	cfg   models.Config
}

func newEnv(t *testing.T, mutate ...func(*models.Config)) *env {
	t.Helper()

	cfg := models.Defaults()
	cfg.Bucket = "media"
	cfg.ResizeSize = 64
	cfg.WatermarkText = "imgpipe"
	for _, m := range mutate {
		m(&cfg)
	}

	fs, err := objectstore.NewFilesystemStore(t.TempDir(), "http://localhost:8080/objects", []byte("k"))
	require.NoError(t, err)
	tbl, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "meta.db"), cfg.TableName)
	require.NoError(t, err)
	t.Cleanup(tbl.Close)

	store := &countingStore{Store: fs}
	table := &countingTable{Table: tbl}
	p := New(cfg, store, table,
		WithFont(watermark.Builtin()),
		WithClock(func() time.Time { return fixedNow }),
		WithSuffix(func() string { return "deadbeef" }),
	)
	return &env{p: p, store: store, table: table, cfg: cfg}
}

// countingStore counts writes and can be told to fail them.
type countingStore struct {
	objectstore.Store
	mu      sync.Mutex
	puts    int
	failPut bool
}

func (s *countingStore) Put(ctx context.Context, bucket, key string, data []byte, opts objectstore.PutOptions) error {
	s.mu.Lock()
	s.puts++
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errors.New("disk on fire")
	}
	return s.Store.Put(ctx, bucket, key, data, opts)
}

func (s *countingStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type countingTable struct {
	Table
	mu      sync.Mutex
	puts    int
	failPut bool
}

func (t *countingTable) PutRecord(ctx context.Context, rec *models.MetadataRecord) error {
	t.mu.Lock()
	t.puts++
	fail := t.failPut
	t.mu.Unlock()
	if fail {
		return errors.New("table throttled")
	}
	return t.Table.PutRecord(ctx, rec)
}

func (t *countingTable) Puts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.puts
}

func pngBytes(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func redPNG(t *testing.T) []byte {
	return pngBytes(t, 10, 10, color.NRGBA{R: 255, A: 255})
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
