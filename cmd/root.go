package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"imgpipe/internal/metrics"
	"imgpipe/internal/models"
	"imgpipe/internal/objectstore"
	"imgpipe/internal/pipeline"
	"imgpipe/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "imgpipe",
	Short:         "Image ingestion, resize, watermark and metadata pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
}

// loadConfig reads the config and sets up the global logger from it.
func loadConfig() (*models.Config, zerolog.Logger, error) {
	cfg, err := models.LoadConfig(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, newLogger(cfg.LogLevel), nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "imgpipe").Logger()
	log.Logger = logger
	return logger
}

// table is a metadata table the process owns and closes.
type table interface {
	pipeline.Table
	Close()
}

func openTable(ctx context.Context, cfg *models.Config) (table, error) {
	switch cfg.TableDriver {
	case models.TableDriverSQLite:
		return storage.OpenSQLite(ctx, cfg.SQLitePath, cfg.TableName)
	default:
		return storage.NewStorage(ctx, cfg.DatabaseURL, cfg.TableName)
	}
}

func openStore(ctx context.Context, cfg *models.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore {
	case models.ObjectStoreS3:
		return objectstore.NewS3Store(ctx, cfg.S3Region, cfg.S3Endpoint)
	default:
		return objectstore.NewFilesystemStore(cfg.StoragePath, cfg.PublicURL, []byte(cfg.SigningKey))
	}
}

// app holds the process-wide collaborators shared by every invocation.
type app struct {
	cfg      *models.Config
	log      zerolog.Logger
	store    objectstore.Store
	table    table
	registry *prometheus.Registry
	pipe     *pipeline.Pipeline
}

func newApp(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init object store: %w", err)
	}
	tbl, err := openTable(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipe := pipeline.New(*cfg, store, tbl,
		pipeline.WithLogger(logger.With().Str("component", "pipeline").Logger()),
		pipeline.WithMetrics(metrics.New(reg)),
	)
	return &app{
		cfg:      cfg,
		log:      logger,
		store:    store,
		table:    tbl,
		registry: reg,
		pipe:     pipe,
	}, nil
}

func (a *app) Close() {
	a.table.Close()
}
