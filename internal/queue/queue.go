// Package queue carries object-created events over Kafka and runs the
// resize/watermark chain for each one.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"imgpipe/internal/models"
	"imgpipe/internal/pipeline"
)

const (
	EventSource     = "imgpipe.ingest"
	EventDetailType = "Object Created"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Publisher announces raw objects written by ingestion.
type Publisher struct {
	w MessageWriter
}

func NewPublisher(broker, topic string) *Publisher {
	return &Publisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{w: w}
}

// ObjectCreated publishes the event for bucket/key, keyed by object key.
func (p *Publisher) ObjectCreated(ctx context.Context, bucket, key string, size int64) error {
	const op = "queue.ObjectCreated"

	body, err := json.Marshal(models.ObjectCreatedEvent{
		Source:     EventSource,
		DetailType: EventDetailType,
		Detail: &models.EventDetail{
			Bucket: &models.EventBucket{Name: bucket},
			Object: &models.EventObject{Key: key, Size: size},
		},
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// Chainer runs the resize stage and feeds its output to the watermark stage.
type Chainer interface {
	Chain(ctx context.Context, in pipeline.ResizeInput) (*pipeline.WatermarkOutput, error)
}

// Consumer reads events and runs one chain per message. Failures are logged
// and the message is not retried.
type Consumer struct {
	r     MessageReader
	chain Chainer
	log   zerolog.Logger
}

func NewConsumer(broker, topic, group string, chain Chainer, log zerolog.Logger) *Consumer {
	return NewConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{broker},
		Topic:   topic,
		GroupID: group,
	}), chain, log)
}

func NewConsumerWithReader(r MessageReader, chain Chainer, log zerolog.Logger) *Consumer {
	return &Consumer{r: r, chain: chain, log: log}
}

// Run blocks until ctx is cancelled, then closes the reader.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.r.Close()

	for {
		msg, err := c.r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("error reading message")
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			c.log.Error().
				Err(err).
				Int64("offset", msg.Offset).
				Int("partition", msg.Partition).
				Msg("error processing image")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	in, err := pipeline.ParseResizeInput(msg.Value)
	if err != nil {
		return err
	}
	out, err := c.chain.Chain(ctx, in)
	if err != nil {
		return err
	}
	c.log.Info().Str("bucket", out.Bucket).Str("key", out.Key).Msg("final image written")
	return nil
}
