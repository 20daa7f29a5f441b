package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"imgpipe/internal/queue"
	"imgpipe/internal/server"
)

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP front for ingestion and metadata",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", false, "also consume object-created events in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	gin.SetMode(gin.ReleaseMode)

	var notifier server.Notifier
	if cfg.KafkaBroker != "" {
		producer := queue.NewPublisher(cfg.KafkaBroker, cfg.KafkaTopic)
		defer producer.Close()
		notifier = producer

		if withWorker {
			consumer := queue.NewConsumer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaGroup, a.pipe,
				a.log.With().Str("component", "worker").Logger())
			go func() {
				if err := consumer.Run(ctx); err != nil {
					a.log.Error().Err(err).Msg("consumer stopped")
				}
			}()
		}
	} else {
		a.log.Warn().Msg("KAFKA_BROKER not set, uploads will not trigger the resize chain")
	}

	srv := server.NewServer(cfg, a.pipe, a.store, notifier, a.registry,
		a.log.With().Str("component", "server").Logger())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return srv.Stop(shutdownCtx)
}
