package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imgpipe/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume object-created events and run resize then watermark",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.KafkaBroker == "" {
		return errors.New("KAFKA_BROKER is required for the worker")
	}

	logger := a.log.With().Str("component", "worker").Logger()
	logger.Info().
		Str("broker", a.cfg.KafkaBroker).
		Str("topic", a.cfg.KafkaTopic).
		Str("group", a.cfg.KafkaGroup).
		Msg("worker started")

	consumer := queue.NewConsumer(a.cfg.KafkaBroker, a.cfg.KafkaTopic, a.cfg.KafkaGroup, a.pipe, logger)
	return consumer.Run(ctx)
}
