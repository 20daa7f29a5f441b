package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgpipe/internal/models"
	"imgpipe/internal/pipeline"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakeChain struct {
	mu     sync.Mutex
	inputs []pipeline.ResizeInput
	fail   bool
	done   chan struct{}
	want   int
}

func (c *fakeChain) Chain(_ context.Context, in pipeline.ResizeInput) (*pipeline.WatermarkOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	if len(c.inputs) == c.want {
		close(c.done)
	}
	if c.fail {
		return nil, errors.New("resize exploded")
	}
	bucket, key, _ := in.Locator()
	return &pipeline.WatermarkOutput{Bucket: bucket, Key: "FINAL-IMAGES/" + key}, nil
}

func TestPublisherObjectCreated(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter(w)

	require.NoError(t, p.ObjectCreated(context.Background(), "media", "uploaded/cat.png", 42))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("uploaded/cat.png"), w.msgs[0].Key)

	var ev models.ObjectCreatedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventSource, ev.Source)
	assert.Equal(t, EventDetailType, ev.DetailType)
	assert.Equal(t, "media", ev.Detail.Bucket.Name)
	assert.Equal(t, "uploaded/cat.png", ev.Detail.Object.Key)
	assert.Equal(t, int64(42), ev.Detail.Object.Size)

	in, err := pipeline.ParseResizeInput(w.msgs[0].Value)
	require.NoError(t, err)
	bucket, key, err := in.Locator()
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "uploaded/cat.png", key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisherError(t *testing.T) {
	p := NewPublisherWithWriter(&fakeWriter{err: errors.New("broker down")})
	assert.Error(t, p.ObjectCreated(context.Background(), "media", "k", 1))
}

func runConsumer(t *testing.T, msgs []kafka.Message, chain *fakeChain) *fakeReader {
	t.Helper()
	r := &fakeReader{msgs: msgs}
	c := NewConsumerWithReader(r, chain, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	<-chain.done
	cancel()
	require.NoError(t, <-errc)
	return r
}

func TestConsumerRunsChainPerMessage(t *testing.T) {
	ev := func(key string) kafka.Message {
		return kafka.Message{Value: []byte(`{"detail":{"bucket":{"name":"media"},"object":{"key":"` + key + `"}}}`)}
	}
	chain := &fakeChain{done: make(chan struct{}), want: 2}
	r := runConsumer(t, []kafka.Message{
		ev("uploaded/a.png"),
		{Value: []byte("garbage")},
		ev("uploaded/b.png"),
	}, chain)

	require.Len(t, chain.inputs, 2)
	_, key, err := chain.inputs[1].Locator()
	require.NoError(t, err)
	assert.Equal(t, "uploaded/b.png", key)
	assert.True(t, r.closed)
}

func TestConsumerSurvivesChainFailure(t *testing.T) {
	msg := kafka.Message{Value: []byte(`{"bucket":"media","filename":"uploaded/a.png"}`)}
	chain := &fakeChain{done: make(chan struct{}), want: 2, fail: true}
	runConsumer(t, []kafka.Message{msg, msg}, chain)
	assert.Len(t, chain.inputs, 2)
}
