package ingestion

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAcker struct {
	mu     sync.Mutex
	acks   int
	naks   int
	delays []time.Duration
}

func (a *fakeAcker) Ack(...nats.AckOpt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAcker) NakWithDelay(delay time.Duration, _ ...nats.AckOpt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.naks++
	a.delays = append(a.delays, delay)
	return nil
}

func (a *fakeAcker) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.naks
}

func newRoutedSource(t *testing.T, handler Handler, cfg JetStreamSourceConfig) *JetStreamSource {
	t.Helper()
	s := NewJetStreamSource(nil, handler, cfg)
	s.lanes = NewLaneRunner(context.Background(), 8)
	t.Cleanup(s.lanes.Close)
	return s
}

func settledOnce(t *testing.T, acker *fakeAcker) {
	t.Helper()
	require.Eventually(t, func() bool {
		acks, naks := acker.counts()
		return acks+naks == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	acks, naks := acker.counts()
	require.Equal(t, 1, acks+naks)
}

func TestJetStreamSource_AcksValidRecord(t *testing.T) {
	store := &fakeStore{}
	publisher := &fakePublisher{}
	s := newRoutedSource(t, newTestConsumer(store, publisher), JetStreamSourceConfig{})

	acker := &fakeAcker{}
	s.route(context.Background(), Record{Partition: "prices.AAPL", Offset: 1, Value: []byte(`{"symbol":"AAPL","price":"150.25"}`)}, acker)

	settledOnce(t, acker)
	acks, _ := acker.counts()
	assert.Equal(t, 1, acks)
	assert.Len(t, store.all(), 1)
	assert.Len(t, publisher.all(), 1)
}

func TestJetStreamSource_AcksPoisonRecord(t *testing.T) {
	store := &fakeStore{}
	s := newRoutedSource(t, newTestConsumer(store, &fakePublisher{}), JetStreamSourceConfig{})

	acker := &fakeAcker{}
	s.route(context.Background(), Record{Partition: "prices.BAD", Offset: 2, Value: []byte(`{"symbol":"   ","price":"1"}`)}, acker)

	settledOnce(t, acker)
	acks, _ := acker.counts()
	assert.Equal(t, 1, acks)
	assert.Empty(t, store.all())
}

func TestJetStreamSource_NaksPublishFault(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("fan-out down")}
	s := newRoutedSource(t, newTestConsumer(&fakeStore{}, publisher), JetStreamSourceConfig{NakDelay: 3 * time.Second})

	acker := &fakeAcker{}
	s.route(context.Background(), Record{Partition: "prices.MSFT", Offset: 3, Value: []byte(`{"symbol":"MSFT","price":"410"}`)}, acker)

	settledOnce(t, acker)
	_, naks := acker.counts()
	assert.Equal(t, 1, naks)
	assert.Equal(t, []time.Duration{3 * time.Second}, acker.delays)
}

func TestJetStreamSource_HandleTimeoutBoundsHandler(t *testing.T) {
	var deadline time.Time
	handler := handlerFunc(func(ctx context.Context, _ Record) Outcome {
		deadline, _ = ctx.Deadline()
		return Ack
	})
	s := newRoutedSource(t, handler, JetStreamSourceConfig{HandleTimeout: time.Minute})

	acker := &fakeAcker{}
	start := time.Now()
	s.route(context.Background(), Record{Partition: "prices.AAPL"}, acker)

	settledOnce(t, acker)
	assert.WithinDuration(t, start.Add(time.Minute), deadline, 5*time.Second)
}

func TestJetStreamRecord_UsesStreamSequence(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &nats.Msg{
		Subject: "prices.AAPL",
		Reply:   "$JS.ACK.PRICES.finstream-broadcaster.1.42.7." + strconv.FormatInt(ts.UnixNano(), 10) + ".0",
		Data:    []byte(`{"symbol":"AAPL"}`),
		Sub:     &nats.Subscription{},
	}

	rec := jetStreamRecord(msg)

	assert.Equal(t, "prices.AAPL", rec.Partition)
	assert.Equal(t, "prices.AAPL", rec.Key)
	assert.Equal(t, int64(42), rec.Offset)
	assert.True(t, ts.Equal(rec.Timestamp))
	assert.Equal(t, msg.Data, rec.Value)
}

func TestJetStreamRecord_WithoutMetadata(t *testing.T) {
	rec := jetStreamRecord(&nats.Msg{Subject: "prices.MSFT", Data: []byte("{}")})

	assert.Equal(t, "prices.MSFT", rec.Partition)
	assert.Zero(t, rec.Offset)
	assert.True(t, rec.Timestamp.IsZero())
}

func TestNewJetStreamSource_Defaults(t *testing.T) {
	s := NewJetStreamSource(nil, nil, JetStreamSourceConfig{})

	assert.Equal(t, constant.PriceStreamSubjectAll, s.cfg.Subject)
	assert.Equal(t, constant.PriceQueueGroup, s.cfg.QueueGroup)
	assert.Equal(t, defaultNakDelay, s.cfg.NakDelay)
	assert.Zero(t, s.cfg.HandleTimeout)
}
