package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/payload"
	"imgpipe/internal/pipeline"
)

// HeaderBase64Encoded marks an upload body as transport-encoded.
const HeaderBase64Encoded = "X-Base64-Encoded"

// Notifier is told about every raw object written by an upload.
type Notifier interface {
	ObjectCreated(ctx context.Context, bucket, key string, size int64) error
}

// Verifier checks signed download links. Stores that issue their own links
// through a third party (S3) do not implement it.
type Verifier interface {
	Verify(bucket, key, expires, signature string) error
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	http     *http.Server
	pipe     *pipeline.Pipeline
	store    objectstore.Store
	notifier Notifier
	log      zerolog.Logger
}

// NewServer wires the routes. notifier and gatherer may be nil.
func NewServer(cfg *models.Config, pipe *pipeline.Pipeline, store objectstore.Store, notifier Notifier, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	r := gin.New()
	s := &Server{
		cfg:      cfg,
		router:   r,
		pipe:     pipe,
		store:    store,
		notifier: notifier,
		log:      log,
	}
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/upload", s.handleUpload)
	r.GET("/images/:id", s.handleGetImage)
	if _, ok := store.(Verifier); ok {
		r.GET("/objects/:bucket/*key", s.handleGetObject)
	}
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	var (
		res *pipeline.IngestResult
		err error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		res, err = s.ingestMultipart(c)
	} else {
		res, err = s.ingestBody(c)
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.log.Warn().Int64("limit", tooLarge.Limit).Msg("upload rejected: body too large")
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return
	}
	if err != nil {
		s.fail(c, fmt.Errorf("%s: %w", op, err))
		return
	}

	if s.notifier != nil {
		if err := s.notifier.ObjectCreated(ctx, res.Bucket, res.ObjectKey, res.Size); err != nil {
			s.log.Warn().Err(err).Str("key", res.ObjectKey).Msg("object-created event not published")
		}
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ingestBody(c *gin.Context) (*pipeline.IngestResult, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", models.ErrMalformedRequest, err)
	}
	encoded, _ := strconv.ParseBool(c.GetHeader(HeaderBase64Encoded))

	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}
	return s.pipe.Ingest(c.Request.Context(), payload.Request{
		Body:          string(body),
		Base64Encoded: encoded,
		Headers:       headers,
	})
}

// ingestMultipart takes the raw bytes of the "image" part; no base64 is involved.
func (s *Server) ingestMultipart(c *gin.Context) (*pipeline.IngestResult, error) {
	file, err := c.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedRequest, err)
	}
	data, err := readPart(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMalformedRequest, err)
	}

	name := c.GetHeader("filename")
	if name == "" {
		name = file.Filename
	}
	return s.pipe.IngestBytes(c.Request.Context(), data, name, file.Header.Get("Content-Type"))
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleGetImage(c *gin.Context) {
	const op = "server.handleGetImage"

	meta, err := s.pipe.ComposeMetadata(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, fmt.Errorf("%s: %w", op, err))
		return
	}
	c.JSON(http.StatusOK, meta)
}

// handleGetObject serves objects behind links issued by the filesystem store.
func (s *Server) handleGetObject(c *gin.Context) {
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")

	err := s.store.(Verifier).Verify(bucket, key, c.Query("expires"), c.Query("signature"))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	info, err := s.store.Head(ctx, bucket, key)
	if err != nil {
		s.objectError(c, err)
		return
	}
	data, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		s.objectError(c, err)
		return
	}
	ctype := info.ContentType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	c.Data(http.StatusOK, ctype, data)
}

func (s *Server) objectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, objectstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, objectstore.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error().Err(err).Msg("object read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := pipeline.StatusCode(err)
	ev := s.log.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.log.Error()
	}
	ev.Err(err).Int("status", status).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
