package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgpipe/internal/metrics"
	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/pipeline"
	"imgpipe/internal/storage"
	"imgpipe/internal/watermark"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type event struct {
	bucket, key string
	size        int64
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
	err    error
}

func (n *recordingNotifier) ObjectCreated(_ context.Context, bucket, key string, size int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{bucket, key, size})
	return n.err
}

type testServer struct {
	srv      *Server
	notifier *recordingNotifier
	store    *objectstore.FilesystemStore
}

func newTestServer(t *testing.T, opts ...func(*models.Config)) *testServer {
	t.Helper()

	cfg := models.Defaults()
	cfg.Bucket = "media"
	cfg.ResizeSize = 32
	for _, opt := range opts {
		opt(&cfg)
	}

	store, err := objectstore.NewFilesystemStore(t.TempDir(), cfg.PublicURL, []byte("secret"))
	require.NoError(t, err)
	table, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "meta.db"), cfg.TableName)
	require.NoError(t, err)
	t.Cleanup(table.Close)

	reg := prometheus.NewRegistry()
	pipe := pipeline.New(cfg, store, table,
		pipeline.WithFont(watermark.Builtin()),
		pipeline.WithMetrics(metrics.New(reg)),
	)
	n := &recordingNotifier{}
	return &testServer{
		srv:      NewServer(&cfg, pipe, store, n, reg, zerolog.Nop()),
		notifier: n,
		store:    store,
	}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func redPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 12, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 12; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestUploadJSON(t *testing.T) {
	ts := newTestServer(t)
	data := redPNG(t)

	req := httptest.NewRequest(http.MethodPost, "/upload",
		strings.NewReader(`{"image":"`+base64.StdEncoding.EncodeToString(data)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("filename", "red")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "red.png", body["filename"])
	assert.Equal(t, "media", body["bucket"])
	assert.Equal(t, "PNG", body["image_format"])

	require.Len(t, ts.notifier.events, 1)
	assert.Equal(t, event{"media", "uploaded/red.png", int64(len(data))}, ts.notifier.events[0])
}

func TestUploadRawBase64(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/upload",
		strings.NewReader(base64.StdEncoding.EncodeToString(redPNG(t))))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Filename", "raw.png")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "raw.png", decodeBody(t, w)["filename"])
}

func TestUploadTransportEncodedJSON(t *testing.T) {
	ts := newTestServer(t)
	inner := `{"body":"` + base64.StdEncoding.EncodeToString(redPNG(t)) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/upload",
		strings.NewReader(base64.StdEncoding.EncodeToString([]byte(inner))))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderBase64Encoded, "true")
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUploadMultipart(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "from-form.png")
	require.NoError(t, err)
	_, err = part.Write(redPNG(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := ts.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "from-form.png", body["filename"])
	assert.Equal(t, "image/png", body["content_type"])
}

func TestUploadMultipartWithoutImagePart(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := ts.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ts.notifier.events)
}

func TestUploadClientErrors(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"bad b64":   "@@@",
		"not image": base64.StdEncoding.EncodeToString([]byte("hello")),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
			req.Header.Set("Content-Type", "text/plain")
			w := ts.do(req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeBody(t, w), "error")
			assert.Empty(t, ts.notifier.events)
		})
	}
}

func TestUploadSucceedsWhenPublishFails(t *testing.T) {
	ts := newTestServer(t)
	ts.notifier.err = errors.New("broker unreachable")

	req := httptest.NewRequest(http.MethodPost, "/upload",
		strings.NewReader(base64.StdEncoding.EncodeToString(redPNG(t))))
	w := ts.do(req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, ts.notifier.events, 1)
}

func TestUploadTooLarge(t *testing.T) {
	data := base64.StdEncoding.EncodeToString(redPNG(t))
	ts := newTestServer(t, func(c *models.Config) { c.MaxUploadBytes = int64(len(data) - 1) })

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(data))
	req.Header.Set("filename", "big.png")
	w := ts.do(req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code, w.Body.String())
	assert.Contains(t, decodeBody(t, w), "error")
	assert.Empty(t, ts.notifier.events)

	// exactly at the limit is accepted
	ts = newTestServer(t, func(c *models.Config) { c.MaxUploadBytes = int64(len(data)) })
	req = httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(data))
	req.Header.Set("filename", "fits.png")
	assert.Equal(t, http.StatusOK, ts.do(req).Code)
}

func upload(t *testing.T, ts *testServer, name string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload",
		strings.NewReader(base64.StdEncoding.EncodeToString(redPNG(t))))
	req.Header.Set("filename", name)
	require.Equal(t, http.StatusOK, ts.do(req).Code)
}

func TestGetImageAndDownload(t *testing.T) {
	ts := newTestServer(t)
	upload(t, ts, "dl.png")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/images/dl.png", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	meta := decodeBody(t, w)
	assert.Equal(t, "dl.png", meta["image-id"])
	assert.Equal(t, 12.0, meta["width"])
	assert.Equal(t, 8.0, meta["height"])
	assert.Equal(t, "uploaded/dl.png", meta["object_key"])

	link, err := url.Parse(meta["download_url"].(string))
	require.NoError(t, err)

	w = ts.do(httptest.NewRequest(http.MethodGet, link.RequestURI(), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	got, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Equal(t, redPNG(t), got)

	q := link.Query()
	q.Set("signature", strings.Repeat("0", 64))
	link.RawQuery = q.Encode()
	w = ts.do(httptest.NewRequest(http.MethodGet, link.RequestURI(), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDownloadAwkwardFilename(t *testing.T) {
	ts := newTestServer(t)
	name := "50%off #1?.png"
	upload(t, ts, name)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/images/"+url.PathEscape(name), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	meta := decodeBody(t, w)
	assert.Equal(t, "uploaded/"+name, meta["object_key"])

	link, err := url.Parse(meta["download_url"].(string))
	require.NoError(t, err)
	w = ts.do(httptest.NewRequest(http.MethodGet, link.RequestURI(), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, redPNG(t), w.Body.Bytes())
}

func TestGetImageUnknown(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/images/nope.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	ts := newTestServer(t)
	upload(t, ts, "m.png")

	w := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `imgpipe_stage_invocations_total{outcome="ok",stage="ingest"} 1`)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
