package ingestion

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	messages chan kafka.Message
	closed   chan struct{}
	once     sync.Once

	mu        sync.Mutex
	committed []kafka.Message

	failing atomic.Int32
	fetches atomic.Int32
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{
		messages: make(chan kafka.Message, len(msgs)),
		closed:   make(chan struct{}),
	}
	for _, msg := range msgs {
		r.messages <- msg
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.fetches.Add(1)
	if r.failing.Load() > 0 {
		r.failing.Add(-1)
		return kafka.Message{}, errors.New("broker unavailable")
	}
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-r.closed:
		return kafka.Message{}, io.EOF
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeReader) offsets(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var offsets []int64
	for _, msg := range r.committed {
		if msg.Partition == partition {
			offsets = append(offsets, msg.Offset)
		}
	}
	return offsets
}

type handlerFunc func(ctx context.Context, rec Record) Outcome

func (f handlerFunc) Handle(ctx context.Context, rec Record) Outcome {
	return f(ctx, rec)
}

func message(partition int, offset int64) kafka.Message {
	return kafka.Message{
		Topic:     "finstream.stock.prices",
		Partition: partition,
		Offset:    offset,
		Value:     []byte(`{"symbol":"AAPL","price":"1"}`),
	}
}

func TestKafkaSource_CommitsInPartitionOrder(t *testing.T) {
	reader := newFakeReader(
		message(0, 1), message(1, 1), message(0, 2), message(1, 2), message(0, 3),
	)
	source := NewKafkaSource(reader, handlerFunc(func(context.Context, Record) Outcome { return Ack }), KafkaSourceConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, source.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(reader.offsets(0)) == 3 && len(reader.offsets(1)) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1, 2, 3}, reader.offsets(0))
	assert.Equal(t, []int64{1, 2}, reader.offsets(1))

	require.NoError(t, source.Close())
	<-source.Done()
}

func TestKafkaSource_RetriesNoAckBeforeCommitting(t *testing.T) {
	reader := newFakeReader(message(0, 1), message(0, 2))

	var attempts atomic.Int32
	handler := handlerFunc(func(_ context.Context, rec Record) Outcome {
		if rec.Offset == 1 && attempts.Add(1) < 3 {
			return NoAck
		}
		return Ack
	})

	source := NewKafkaSource(reader, handler, KafkaSourceConfig{
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, source.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(reader.offsets(0)) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []int64{1, 2}, reader.offsets(0))
	assert.Equal(t, int32(3), attempts.Load())

	require.NoError(t, source.Close())
}

func TestKafkaSource_NoCommitWhileShuttingDown(t *testing.T) {
	reader := newFakeReader(message(0, 1))
	source := NewKafkaSource(reader, handlerFunc(func(context.Context, Record) Outcome { return NoAck }), KafkaSourceConfig{
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, source.Start(ctx))

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, source.Close())

	assert.Empty(t, reader.offsets(0))
}

func TestKafkaSource_BacksOffOnFetchErrors(t *testing.T) {
	reader := newFakeReader()
	reader.failing.Store(1 << 20)
	source := NewKafkaSource(reader, handlerFunc(func(context.Context, Record) Outcome { return Ack }), KafkaSourceConfig{
		RetryMinBackoff: 20 * time.Millisecond,
		RetryMaxBackoff: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, source.Start(ctx))

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-source.Done()
	require.NoError(t, source.Close())

	assert.LessOrEqual(t, reader.fetches.Load(), int32(10))
}

func TestKafkaSource_RecoversAfterFetchErrors(t *testing.T) {
	reader := newFakeReader(message(0, 1))
	reader.failing.Store(3)
	source := NewKafkaSource(reader, handlerFunc(func(context.Context, Record) Outcome { return Ack }), KafkaSourceConfig{
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: 2 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, source.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(reader.offsets(0)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, reader.fetches.Load(), int32(4))

	require.NoError(t, source.Close())
}

func TestKafkaRecord(t *testing.T) {
	rec := kafkaRecord(kafka.Message{Topic: "t", Partition: 3, Offset: 9, Key: []byte("AAPL")})
	assert.Equal(t, "t/3", rec.Partition)
	assert.Equal(t, int64(9), rec.Offset)
	assert.Equal(t, "AAPL", rec.Key)
}
